package stores

import (
	"errors"
	"strings"
)

func (s *Service) validate(store Store) error {
	if strings.TrimSpace(store.Code) == "" {
		return errors.New("store code is required")
	}
	if strings.TrimSpace(store.Name) == "" {
		return errors.New("store name is required")
	}
	if strings.TrimSpace(store.Address) == "" {
		return errors.New("store address is required")
	}
	if strings.TrimSpace(store.City) == "" {
		return errors.New("store city is required")
	}
	return nil
}
