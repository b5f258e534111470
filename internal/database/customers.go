package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/billing/internal/billing"
)

const customerColumns = `id, identification_number, first_name, last_name, street_address, city,
	state, zip_code, phone, phone_extension, COALESCE(email, ''), created_at`

func scanCustomer(row pgx.Row) (billing.Customer, error) {
	var c billing.Customer
	err := row.Scan(
		&c.ID,
		&c.IdentificationNumber,
		&c.FirstName,
		&c.LastName,
		&c.StreetAddress,
		&c.City,
		&c.State,
		&c.ZipCode,
		&c.Phone,
		&c.PhoneExtension,
		&c.Email,
		&c.CreatedAt,
	)
	return c, mapErr(err)
}

const listCustomers = `SELECT ` + customerColumns + ` FROM customers ORDER BY id`

func (q *Queries) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	rows, err := q.db.Query(ctx, listCustomers)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	items := []billing.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, mapErr(rows.Err())
}

const getCustomer = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

func (q *Queries) GetCustomer(ctx context.Context, id int64) (billing.Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, getCustomer, id))
}

const findCustomerID = `SELECT id FROM customers WHERE identification_number = $1`

// FindCustomerID looks a customer up by business key.
func (q *Queries) FindCustomerID(ctx context.Context, identificationNumber string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, findCustomerID, identificationNumber).Scan(&id)
	return id, mapErr(err)
}

const insertCustomer = `INSERT INTO customers (
	identification_number, first_name, last_name, street_address, city,
	state, zip_code, phone, phone_extension, email
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
RETURNING ` + customerColumns

func (q *Queries) CreateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, insertCustomer,
		c.IdentificationNumber,
		c.FirstName,
		c.LastName,
		c.StreetAddress,
		c.City,
		c.State,
		c.ZipCode,
		c.Phone,
		c.PhoneExtension,
		c.Email,
	))
}

// InsertCustomer stores an imported customer and returns its id.
func (q *Queries) InsertCustomer(ctx context.Context, c billing.Customer) (int64, error) {
	created, err := q.CreateCustomer(ctx, c)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

const updateCustomer = `UPDATE customers SET
	identification_number = $2,
	first_name = $3,
	last_name = $4,
	street_address = $5,
	city = $6,
	state = $7,
	zip_code = $8,
	phone = $9,
	phone_extension = $10,
	email = NULLIF($11, '')
WHERE id = $1
RETURNING ` + customerColumns

func (q *Queries) UpdateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, updateCustomer,
		c.ID,
		c.IdentificationNumber,
		c.FirstName,
		c.LastName,
		c.StreetAddress,
		c.City,
		c.State,
		c.ZipCode,
		c.Phone,
		c.PhoneExtension,
		c.Email,
	))
}

const deleteCustomer = `DELETE FROM customers WHERE id = $1`

func (q *Queries) DeleteCustomer(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, deleteCustomer, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}
