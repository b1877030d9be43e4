package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
)

type demoCustomer struct {
	id          string
	email       string
	name        string
	account     string
	balance     money.Money
	creditLimit money.Money
}

// Fixed IDs so local tokens can be minted for them.
var demoCustomers = []demoCustomer{
	{id: "11111111-1111-4111-8111-111111111111", email: "alice@bankify.test", name: "Alice Martin", account: "100000000001", balance: money.FromMajor(5000), creditLimit: money.FromMajor(10000)},
	{id: "22222222-2222-4222-8222-222222222222", email: "bob@bankify.test", name: "Bob Tremblay", account: "100000000002", balance: money.FromMajor(1200), creditLimit: money.FromMajor(5000)},
}

var demoProducts = []domain.Product{
	{ID: uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001"), Name: "Noise Cancelling Headphones", Category: "Electronics", Price: money.FromMinor(34999)},
	{ID: uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000002"), Name: "Espresso Machine", Category: "Home", Price: money.FromMinor(129900)},
	{ID: uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000003"), Name: "Laptop", Category: "Electronics", Price: money.FromMajor(2400)},
}

// seedDemoData fills an in-memory store with two customers and a small catalog.
func seedDemoData(repo *store.MemoryRepository, now time.Time) {
	for i, c := range demoCustomers {
		userID := uuid.MustParse(c.id)
		account := domain.Account{
			ID:            uuid.NewSHA1(userID, []byte("account")),
			UserID:        userID,
			AccountNumber: c.account,
			Balance:       c.balance,
			Currency:      domain.Currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		repo.PutUser(domain.User{ID: userID, Email: c.email, FullName: c.name})
		repo.PutAccount(account)
		repo.PutCard(domain.Card{
			ID:               uuid.NewSHA1(userID, []byte("debit")),
			UserID:           userID,
			FundingAccountID: &account.ID,
			Kind:             domain.CardKindDebit,
			CardNumber:       "45100000000000" + c.account[len(c.account)-2:],
			CardholderName:   c.name,
			Status:           domain.CardStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		repo.PutCard(domain.Card{
			ID:              uuid.NewSHA1(userID, []byte("credit")),
			UserID:          userID,
			Kind:            domain.CardKindCredit,
			CardNumber:      "55200000000000" + c.account[len(c.account)-2:],
			CardholderName:  c.name,
			CreditLimit:     c.creditLimit,
			AvailableCredit: c.creditLimit,
			Status:          domain.CardStatusActive,
			CreatedAt:       now.Add(time.Duration(i+1) * time.Second),
			UpdatedAt:       now,
		})
	}
	for _, p := range demoProducts {
		repo.PutProduct(p)
	}
}
