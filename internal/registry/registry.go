package registry

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"eventsMonitor/internal/config"
)

// Binding is what a log address resolves to: the outermost proxy identity
// plus the descriptors to decode against, in order.
type Binding struct {
	Root       *ContractDescriptor
	Address    common.Address
	Candidates []*ContractDescriptor
}

// Registry is the flat, read-only address table built from the contract tree.
// It is safe for concurrent reads.
type Registry struct {
	bindings    map[common.Address]*Binding
	descriptors []*ContractDescriptor
}

// Lookup returns the binding for a log address.
func (r *Registry) Lookup(address common.Address) (*Binding, bool) {
	b, ok := r.bindings[address]
	return b, ok
}

// Addresses returns every indexed address, proxies and implementations, sorted.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.bindings))
	for addr := range r.bindings {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Descriptors returns every descriptor in resolution order.
func (r *Registry) Descriptors() []*ContractDescriptor {
	out := make([]*ContractDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Loader builds a descriptor for one contract entry. Load is the default.
type Loader func(name, addressHex, abiPath string) (*ContractDescriptor, error)

type resolver struct {
	maxDepth  int
	maxFanOut int
	load      Loader
	logger    *zap.Logger
	reg       *Registry
}

// ResolveProxyTree loads every contract and its implementations, recursively,
// and flattens them into a Registry. Nesting deeper than maxDepth, more than
// maxFanOut implementations on one node, or a cycle fail with config.ErrConfig.
func ResolveProxyTree(contracts []config.ContractConfig, maxDepth, maxFanOut int, logger *zap.Logger) (*Registry, error) {
	return ResolveProxyTreeWith(Load, contracts, maxDepth, maxFanOut, logger)
}

// ResolveProxyTreeWith is ResolveProxyTree with a custom loader.
func ResolveProxyTreeWith(load Loader, contracts []config.ContractConfig, maxDepth, maxFanOut int, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("%w: no contracts configured", config.ErrConfig)
	}

	r := &resolver{
		maxDepth:  maxDepth,
		maxFanOut: maxFanOut,
		load:      load,
		logger:    logger.Named("registry"),
		reg:       &Registry{bindings: make(map[common.Address]*Binding)},
	}

	seenRoots := make(map[common.Address]struct{}, len(contracts))
	for _, contract := range contracts {
		root, err := r.load(contract.Name, contract.Address, contract.AbiPath)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", contract.Name, err)
		}
		if _, dup := seenRoots[root.Address]; dup {
			return nil, fmt.Errorf("%w: contract %s: duplicate address %s", config.ErrConfig, contract.Name, root.Address.Hex())
		}
		seenRoots[root.Address] = struct{}{}

		path := map[common.Address]struct{}{root.Address: {}}
		if _, err := r.walk(root, root, contract.Implementations, 1, path); err != nil {
			return nil, err
		}
	}

	r.logger.Info("registry resolved",
		zap.Int("contracts", len(contracts)),
		zap.Int("descriptors", len(r.reg.descriptors)),
		zap.Int("addresses", len(r.reg.bindings)),
	)

	return r.reg, nil
}

// walk registers node and its subtree, returning the subtree's descriptors in
// decode order: the node itself, then each implementation depth-first.
func (r *resolver) walk(root, node *ContractDescriptor, impls []config.ContractConfig, depth int, path map[common.Address]struct{}) ([]*ContractDescriptor, error) {
	r.reg.descriptors = append(r.reg.descriptors, node)

	if len(impls) > 0 && depth > r.maxDepth {
		return nil, fmt.Errorf("%w: contract %s: implementation depth %d exceeds max %d", config.ErrConfig, node.Name, depth, r.maxDepth)
	}
	if len(impls) > r.maxFanOut {
		return nil, fmt.Errorf("%w: contract %s: %d implementations exceeds max %d", config.ErrConfig, node.Name, len(impls), r.maxFanOut)
	}

	candidates := []*ContractDescriptor{node}
	for _, impl := range impls {
		child, err := r.load(impl.Name, impl.Address, impl.AbiPath)
		if err != nil {
			return nil, fmt.Errorf("implementation %s of %s: %w", impl.Name, node.Name, err)
		}
		if _, cycle := path[child.Address]; cycle {
			return nil, fmt.Errorf("%w: contract %s: implementation %s (%s) forms a cycle", config.ErrConfig, node.Name, impl.Name, child.Address.Hex())
		}

		parent := node.Address
		child.ParentName = node.Name
		child.ParentAddress = &parent

		path[child.Address] = struct{}{}
		sub, err := r.walk(root, child, impl.Implementations, depth+1, path)
		delete(path, child.Address)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, sub...)
	}

	r.bind(root, node, candidates)
	return candidates, nil
}

func (r *resolver) bind(root, node *ContractDescriptor, candidates []*ContractDescriptor) {
	if existing, ok := r.reg.bindings[node.Address]; ok && !(node == root && existing.Candidates[0] != existing.Root) {
		// Shared implementations keep the first proxy that claimed them;
		// a top-level contract always owns its own address.
		r.logger.Warn("address already bound, keeping first binding",
			zap.String("address", node.Address.Hex()),
			zap.String("bound_to", existing.Root.Name),
			zap.String("ignored", root.Name),
		)
		return
	}
	r.reg.bindings[node.Address] = &Binding{
		Root:       root,
		Address:    node.Address,
		Candidates: candidates,
	}
}
