package drone

import (
	"context"

	"github.com/pkg/errors"
)

type (
	//the drone config store. it has no pagination, every fetch returns the whole collection.
	ConfigSource interface {
		FetchConfigs(ctx context.Context) ([]*Record, error)
	}

	//answers config and status lookups against the config store
	Resolver struct {
		source ConfigSource
	}

	Status struct {
		Condition string `json:"condition"`
	}
)

func NewResolver(source ConfigSource) *Resolver {
	return &Resolver{source: source}
}

// returns the sanitized config of a drone. every call fetches the whole collection again.
func (r *Resolver) ResolveConfig(ctx context.Context, droneID float64) (*Record, error) {

	config, err := r.find(ctx, droneID)
	if err != nil {
		return nil, err
	}

	config.sanitize()

	return config, nil
}

// returns the condition of a drone as recorded in the config store
func (r *Resolver) ResolveStatus(ctx context.Context, droneID float64) (*Status, error) {

	record, err := r.find(ctx, droneID)
	if err != nil {
		return nil, err
	}

	return &Status{Condition: record.Condition()}, nil
}

func (r *Resolver) find(ctx context.Context, droneID float64) (*Record, error) {

	records, err := r.source.FetchConfigs(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "could not fetch drone configs: %v", err)
	}

	record := FindByID(records, droneID)
	if record == nil {
		return nil, errors.Wrapf(ErrNotFound, "drone %s", FormatID(droneID))
	}

	return record, nil
}
