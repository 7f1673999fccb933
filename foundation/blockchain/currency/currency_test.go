package currency_test

import (
	"errors"
	"math"
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestCheckedArithmetic(t *testing.T) {
	type table struct {
		name    string
		op      func() (currency.Satoshi, error)
		want    currency.Satoshi
		wantErr bool
	}

	tt := []table{
		{
			name: "add",
			op:   func() (currency.Satoshi, error) { return currency.Satoshi(1).Add(2) },
			want: 3,
		},
		{
			name:    "add overflow",
			op:      func() (currency.Satoshi, error) { return currency.Satoshi(math.MaxUint64).Add(1) },
			wantErr: true,
		},
		{
			name: "sub",
			op:   func() (currency.Satoshi, error) { return currency.Satoshi(5).Sub(2) },
			want: 3,
		},
		{
			name:    "sub underflow",
			op:      func() (currency.Satoshi, error) { return currency.Satoshi(2).Sub(5) },
			wantErr: true,
		},
		{
			name: "mul",
			op:   func() (currency.Satoshi, error) { return currency.Satoshi(250).Mul(8) },
			want: 2000,
		},
		{
			name:    "mul overflow",
			op:      func() (currency.Satoshi, error) { return currency.Satoshi(math.MaxUint64 / 2).Mul(3) },
			wantErr: true,
		},
		{
			name: "mul by zero",
			op:   func() (currency.Satoshi, error) { return currency.Satoshi(math.MaxUint64).Mul(0) },
			want: 0,
		},
	}

	t.Log("Given the need for overflow-checked satoshi arithmetic.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen computing %s.", testID, tst.name)
			{
				got, err := tst.op()
				if tst.wantErr {
					if !errors.Is(err, currency.ErrOverflow) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with ErrOverflow, got %v.", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail with ErrOverflow.", success, testID)
					continue
				}

				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould not error: %v.", failed, testID, err)
				}
				if got != tst.want {
					t.Fatalf("\t%s\tTest %d:\tShould get %d, got %d.", failed, testID, tst.want, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get %d.", success, testID, tst.want)
			}
		}
	}
}

func TestConversions(t *testing.T) {
	t.Log("Given the need to express satoshis as coins.")
	{
		if currency.BlockSubsidy != 5_000_000_000 {
			t.Fatalf("\t%s\tShould have a 50 coin subsidy, got %d.", failed, currency.BlockSubsidy)
		}
		t.Logf("\t%s\tShould have a 50 coin subsidy.", success)

		if got := currency.Satoshi(150_000_000).String(); got != "1.50000000" {
			t.Fatalf("\t%s\tShould format 1.5 coins, got %q.", failed, got)
		}
		t.Logf("\t%s\tShould format 1.5 coins.", success)

		sum, err := currency.Sum(1, 2, 3)
		if err != nil || sum != 6 {
			t.Fatalf("\t%s\tShould sum a series, got %d %v.", failed, sum, err)
		}
		t.Logf("\t%s\tShould sum a series.", success)

		if _, err := currency.Sum(math.MaxUint64, 1); err == nil {
			t.Fatalf("\t%s\tShould fail summing past the maximum.", failed)
		}
		t.Logf("\t%s\tShould fail summing past the maximum.", success)
	}
}
