package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/billing/internal/billing"
)

func (s *Service) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	if customers == nil {
		customers = []billing.Customer{}
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (billing.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return billing.Customer{}, fmt.Errorf("get customer %d: %w", id, err)
	}
	return c, nil
}

// CreateCustomer validates and stores a manually entered customer.
func (s *Service) CreateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	c = cleanCustomer(c)
	if err := c.Validate(); err != nil {
		return billing.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return billing.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	s.opts.Logger.Info("customer created", "customer_id", created.ID)
	return created, nil
}

// UpdateCustomer replaces every editable field of customer id.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, c billing.Customer) (billing.Customer, error) {
	c = cleanCustomer(c)
	c.ID = id
	if err := c.Validate(); err != nil {
		return billing.Customer{}, err
	}

	updated, err := s.repo.UpdateCustomer(ctx, c)
	if err != nil {
		return billing.Customer{}, fmt.Errorf("update customer %d: %w", id, err)
	}
	return updated, nil
}

// DeleteCustomer removes a customer that has no transactions.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return fmt.Errorf("delete customer %d: %w", id, err)
	}
	s.opts.Logger.Info("customer deleted", "customer_id", id)
	return nil
}

func cleanCustomer(c billing.Customer) billing.Customer {
	c.IdentificationNumber = strings.TrimSpace(c.IdentificationNumber)
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.StreetAddress = strings.TrimSpace(c.StreetAddress)
	c.City = strings.TrimSpace(c.City)
	c.State = strings.TrimSpace(c.State)
	c.ZipCode = strings.TrimSpace(c.ZipCode)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.PhoneExtension != nil {
		ext := strings.TrimSpace(*c.PhoneExtension)
		if ext == "" {
			c.PhoneExtension = nil
		} else {
			c.PhoneExtension = &ext
		}
	}
	return c
}
