package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const defaultUnitOfMeasure = "unit"

// CreateProduct registers a product. SKUs are unique per tenant and the
// costing strategy defaults to FIFO.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return Product{}, err
	}
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if in.SKU == "" || in.Name == "" {
		return Product{}, fmt.Errorf("inventory: sku and name required: %w", shared.ErrInvalidInput)
	}
	if in.Strategy == "" {
		in.Strategy = StrategyFIFO
	}
	if !in.Strategy.Valid() {
		return Product{}, fmt.Errorf("inventory: unknown strategy %q: %w", in.Strategy, shared.ErrInvalidStrategyConfiguration)
	}
	if in.UnitOfMeasure == "" {
		in.UnitOfMeasure = defaultUnitOfMeasure
	}
	if (in.ReorderPoint != nil && in.ReorderPoint.IsNegative()) || (in.ReorderQuantity != nil && in.ReorderQuantity.IsNegative()) {
		return Product{}, fmt.Errorf("inventory: reorder settings must not be negative: %w", shared.ErrInvalidInput)
	}

	var product Product
	_, err := s.run(ctx, "product_create", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		existing, err := uow.tx.FindProductBySKU(ctx, in.TenantID, in.SKU)
		switch {
		case err == nil:
			return fmt.Errorf("inventory: sku %s already used by product %s: %w", in.SKU, existing.ID, shared.ErrConflict)
		case !errors.Is(err, ErrProductNotFound):
			return err
		}
		product = Product{
			ID:                 uow.svc.newID(),
			TenantID:           in.TenantID,
			SKU:                in.SKU,
			Name:               in.Name,
			UnitOfMeasure:      in.UnitOfMeasure,
			TrackInventory:     in.TrackInventory,
			AllowNegativeStock: in.AllowNegativeStock,
			Strategy:           in.Strategy,
			ReorderPoint:       in.ReorderPoint,
			ReorderQuantity:    in.ReorderQuantity,
			CreatedAt:          uow.now,
			UpdatedAt:          uow.now,
		}
		if err := uow.tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		return uow.record(ctx, audit.Change{
			TenantID:    product.TenantID,
			EntityType:  audit.EntityProduct,
			EntityID:    product.ID,
			Action:      "create",
			Next:        product,
			PerformedBy: in.PerformedBy,
		})
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// UpdateProduct changes descriptive and threshold fields of a product.
func (s *Service) UpdateProduct(ctx context.Context, in ProductUpdate) (Product, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return Product{}, err
	}
	if in.ProductID == "" {
		return Product{}, fmt.Errorf("inventory: product id required: %w", shared.ErrInvalidInput)
	}
	var product Product
	_, err := s.run(ctx, "product_update", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		before, err := uow.product(ctx, in.TenantID, in.ProductID)
		if err != nil {
			return err
		}
		next := before
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return fmt.Errorf("inventory: name must not be blank: %w", shared.ErrInvalidInput)
			}
			next.Name = strings.TrimSpace(*in.Name)
		}
		if in.UnitOfMeasure != nil && *in.UnitOfMeasure != "" {
			next.UnitOfMeasure = *in.UnitOfMeasure
		}
		if in.AllowNegativeStock != nil {
			next.AllowNegativeStock = *in.AllowNegativeStock
		}
		if in.ClearReorderPoint {
			next.ReorderPoint, next.ReorderQuantity = nil, nil
		}
		if in.ReorderPoint != nil {
			if in.ReorderPoint.IsNegative() {
				return fmt.Errorf("inventory: reorder point must not be negative: %w", shared.ErrInvalidInput)
			}
			next.ReorderPoint = in.ReorderPoint
		}
		if in.ReorderQuantity != nil {
			if in.ReorderQuantity.IsNegative() {
				return fmt.Errorf("inventory: reorder quantity must not be negative: %w", shared.ErrInvalidInput)
			}
			next.ReorderQuantity = in.ReorderQuantity
		}
		next.UpdatedAt = uow.now
		if err := uow.tx.UpdateProduct(ctx, next); err != nil {
			return err
		}
		product = next
		return uow.record(ctx, audit.Change{
			TenantID:    next.TenantID,
			EntityType:  audit.EntityProduct,
			EntityID:    next.ID,
			Action:      "update",
			Previous:    before,
			Next:        next,
			PerformedBy: in.PerformedBy,
		})
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProduct returns a product of the tenant.
func (s *Service) GetProduct(ctx context.Context, tenantID, id string) (Product, error) {
	if tenantID == "" {
		return Product{}, errTenantRequired
	}
	return s.repo.GetProduct(ctx, tenantID, id)
}

// ListProducts returns the tenant's products ordered by SKU.
func (s *Service) ListProducts(ctx context.Context, tenantID string, limit int) ([]Product, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	return s.repo.ListProducts(ctx, tenantID, shared.ClampLimit(limit))
}

// CreateLocation registers a location. A parent must already exist in the
// same tenant; since parents are fixed at creation the hierarchy cannot cycle.
func (s *Service) CreateLocation(ctx context.Context, in LocationInput) (Location, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return Location{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Location{}, fmt.Errorf("inventory: location name required: %w", shared.ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = LocationWarehouse
	}
	if !in.Type.Valid() {
		return Location{}, fmt.Errorf("inventory: unknown location type %q: %w", in.Type, shared.ErrInvalidInput)
	}
	var location Location
	_, err := s.run(ctx, "location_create", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		if in.ParentID != "" {
			if _, err := uow.location(ctx, in.TenantID, in.ParentID); err != nil {
				return err
			}
		}
		location = Location{
			ID:        uow.svc.newID(),
			TenantID:  in.TenantID,
			Name:      in.Name,
			Type:      in.Type,
			ParentID:  in.ParentID,
			CreatedAt: uow.now,
			UpdatedAt: uow.now,
		}
		if err := uow.tx.InsertLocation(ctx, location); err != nil {
			return err
		}
		return uow.record(ctx, audit.Change{
			TenantID:    location.TenantID,
			EntityType:  audit.EntityLocation,
			EntityID:    location.ID,
			Action:      "create",
			Next:        location,
			PerformedBy: in.PerformedBy,
		})
	})
	if err != nil {
		return Location{}, err
	}
	return location, nil
}

// GetLocation returns a location of the tenant.
func (s *Service) GetLocation(ctx context.Context, tenantID, id string) (Location, error) {
	if tenantID == "" {
		return Location{}, errTenantRequired
	}
	return s.repo.GetLocation(ctx, tenantID, id)
}

// ListLocations returns the tenant's locations ordered by name.
func (s *Service) ListLocations(ctx context.Context, tenantID string, limit int) ([]Location, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	return s.repo.ListLocations(ctx, tenantID, shared.ClampLimit(limit))
}
