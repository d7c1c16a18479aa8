package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brownbaglunch/webhook/pkg/elasticsearch"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

// AliasStore reads and atomically rewrites alias bindings.
type AliasStore interface {
	AliasIndices(ctx context.Context, alias string) ([]string, error)
	UpdateAliases(ctx context.Context, actions []elasticsearch.AliasAction) error
}

// Swapper moves an alias from its prior generations to a new one in a single
// atomic update, so readers never see the alias unbound or split.
type Swapper struct {
	store AliasStore
}

func NewSwapper(store AliasStore) *Swapper {
	return &Swapper{
		store: store,
	}
}

// Current returns the generations alias points to, empty on first run.
func (s *Swapper) Current(ctx context.Context, alias string) ([]string, error) {
	indices, err := s.store.AliasIndices(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("%w: reading alias %s: %w", apperrors.ErrBackendUnavailable, alias, err)
	}
	s.log(ctx).Info("current alias bindings",
		"alias", alias,
		"indices", indices,
	)
	return indices, nil
}

// Actions returns the add-then-remove action list binding alias to target
// only.
func Actions(alias, target string, prior []string) []elasticsearch.AliasAction {
	actions := []elasticsearch.AliasAction{elasticsearch.AddAlias(target, alias)}
	for _, idx := range prior {
		if idx == target {
			continue
		}
		actions = append(actions, elasticsearch.RemoveAlias(idx, alias))
	}
	return actions
}

// Swap binds alias to target and unbinds it from prior in one request. On
// failure the alias keeps its prior bindings.
func (s *Swapper) Swap(ctx context.Context, alias, target string, prior []string) error {
	actions := Actions(alias, target, prior)
	if err := s.store.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("%w: moving %s to %s: %w", apperrors.ErrAliasSwap, alias, target, err)
	}
	s.log(ctx).Info("alias swapped",
		"alias", alias,
		"target", target,
		"previous", prior,
	)
	return nil
}

func (s *Swapper) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx).With("component", "alias-swapper")
}
