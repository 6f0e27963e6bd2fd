package factory

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"nftLend/internal/collection"
	"nftLend/internal/currency"
	"nftLend/internal/interest"
	"nftLend/internal/lenderr"
	"nftLend/internal/model"
	"nftLend/internal/pool"
)

// CollectionConfig is the per-collection part of a CreatePool request.
type CollectionConfig struct {
	Collection    collection.Collection
	MaxPrice      *big.Int
	MaxLoanLength uint64
	// MaxVariable and MinimumRate are per-second rates scaled by 1e18.
	MaxVariable  *big.Int
	MinimumRate  *big.Int
	LTV          *big.Int
	FeeBps       uint64
	FeeCollector common.Address
	// DecayWindow defaults to interest.DefaultDecayWindow when zero.
	DecayWindow uint64
}

// Options wires a factory to its host.
type Options struct {
	Address      common.Address
	Owner        common.Address
	ChainID      uint64
	MetadataHost string
	Payer        currency.Payer
	Clock        pool.Clock
	Events       pool.EventSink
	Logger       *zap.Logger
}

// Factory creates pools and keeps them in creation order.
type Factory struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	nonce uint64
	pools []*pool.Controller
}

func New(opts Options) (*Factory, error) {
	if opts.Address == (common.Address{}) {
		return nil, fmt.Errorf("factory address is required")
	}
	if opts.Owner == (common.Address{}) {
		return nil, fmt.Errorf("factory owner is required")
	}
	if opts.Payer == nil {
		return nil, fmt.Errorf("payer is nil")
	}
	if strings.TrimSpace(opts.MetadataHost) == "" {
		return nil, fmt.Errorf("metadata host is required")
	}
	if opts.Clock == nil {
		opts.Clock = pool.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Factory{
		opts:   opts,
		logger: logger.With(zap.String("factory", opts.Address.Hex())),
	}, nil
}

func (f *Factory) Address() common.Address { return f.opts.Address }
func (f *Factory) Owner() common.Address   { return f.opts.Owner }

// CreatePool creates one pool per collection config, owned by caller. All
// configs are validated before any pool is registered.
func (f *Factory) CreatePool(caller, oracle common.Address, maxDailyVolume *big.Int, name, symbol string, configs []CollectionConfig) ([]*pool.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no collections", lenderr.ErrInvalidAmount)
	}

	created := make([]*pool.Controller, 0, len(configs))
	nonce := f.nonce
	for i, cc := range configs {
		if cc.Collection == nil {
			return nil, fmt.Errorf("collection %d: collection is nil", i)
		}
		window := cc.DecayWindow
		if window == 0 {
			window = interest.DefaultDecayWindow
		}
		cfg := pool.Config{
			Address:       crypto.CreateAddress(f.opts.Address, nonce),
			Factory:       f.opts.Address,
			Owner:         caller,
			Oracle:        oracle,
			ChainID:       f.opts.ChainID,
			Name:          name,
			Symbol:        symbol,
			MaxPrice:      cc.MaxPrice,
			MaxLoanLength: cc.MaxLoanLength,
			LTV:           cc.LTV,
			Interest: interest.Model{
				MinimumRate:    cc.MinimumRate,
				MaxVariable:    cc.MaxVariable,
				MaxDailyVolume: maxDailyVolume,
				DecayWindow:    window,
			},
			FeeBps:       cc.FeeBps,
			FeeCollector: cc.FeeCollector,
			MetadataHost: f.opts.MetadataHost,
		}
		p, err := pool.New(cfg, pool.Deps{
			Collection: cc.Collection,
			Payer:      f.opts.Payer,
			Clock:      f.opts.Clock,
			Events:     f.opts.Events,
			Logger:     f.opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("collection %d: %w", i, err)
		}
		created = append(created, p)
		nonce++
	}

	first := len(f.pools)
	f.pools = append(f.pools, created...)
	f.nonce = nonce
	for i, p := range created {
		f.emit(p, first+i)
		f.logger.Info("pool created",
			zap.Int("index", first+i),
			zap.String("pool", p.Address().Hex()),
			zap.String("collection", p.Collection().Hex()),
			zap.String("owner", caller.Hex()),
		)
	}
	return created, nil
}

func (f *Factory) emit(p *pool.Controller, index int) {
	if f.opts.Events == nil {
		return
	}
	ts := f.opts.Clock.Now().Unix()
	if ts < 0 {
		ts = 0
	}
	f.opts.Events.Emit(model.PoolEvent{
		ChainID:   f.opts.ChainID,
		Pool:      p.Address().Hex(),
		EventName: model.EventPoolCreated,
		Timestamp: uint64(ts),
		Data:      record(p, index),
	})
}

// EmergencyShutdown zeroes the price ceiling of every referenced pool. Every
// index is checked before any pool is touched.
func (f *Factory) EmergencyShutdown(caller common.Address, indices []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.opts.Owner {
		return fmt.Errorf("%w: %s is not the factory owner", lenderr.ErrUnauthorized, caller.Hex())
	}
	for _, i := range indices {
		if i < 0 || i >= len(f.pools) {
			return fmt.Errorf("%w: %d", lenderr.ErrUnknownPool, i)
		}
	}
	for _, i := range indices {
		if err := f.pools[i].Shutdown(f.opts.Address); err != nil {
			return fmt.Errorf("shutdown pool %d: %w", i, err)
		}
	}
	f.logger.Warn("emergency shutdown", zap.Ints("pools", indices))
	return nil
}

// Pools returns the pools in creation order.
func (f *Factory) Pools() []*pool.Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pool.Controller, len(f.pools))
	copy(out, f.pools)
	return out
}

func (f *Factory) Pool(index int) (*pool.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.pools) {
		return nil, fmt.Errorf("%w: %d", lenderr.ErrUnknownPool, index)
	}
	return f.pools[index], nil
}

func (f *Factory) PoolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

// Shutdown reports whether the pool at index has a zero price ceiling.
func (f *Factory) Shutdown(index int) (bool, error) {
	p, err := f.Pool(index)
	if err != nil {
		return false, err
	}
	return p.MaxPrice().Sign() == 0, nil
}

// Records snapshots the registry for storage.
func (f *Factory) Records() []model.Pool {
	pools := f.Pools()
	out := make([]model.Pool, 0, len(pools))
	for i, p := range pools {
		out = append(out, record(p, i))
	}
	return out
}

func record(p *pool.Controller, index int) model.Pool {
	cfg := p.Config()
	maxPrice := p.MaxPrice()
	return model.Pool{
		ChainID:       cfg.ChainID,
		Index:         index,
		Address:       cfg.Address.Hex(),
		Collection:    p.Collection().Hex(),
		Name:          cfg.Name,
		Symbol:        cfg.Symbol,
		Oracle:        cfg.Oracle.Hex(),
		Owner:         cfg.Owner.Hex(),
		LTV:           cfg.LTV.String(),
		MaxPrice:      maxPrice.String(),
		MaxLoanLength: cfg.MaxLoanLength,
		Shutdown:      maxPrice.Sign() == 0,
	}
}
