package products

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Reference) == "" {
		return errors.New("product reference is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if p.PurchasePrice.IsNegative() || p.SalePrice.IsNegative() {
		return errors.New("product price must not be negative")
	}
	return nil
}
