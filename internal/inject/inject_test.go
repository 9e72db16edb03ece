package inject

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/random"
)

func batch(n int) []*domain.Transaction {
	base := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = &domain.Transaction{
			TransactionID:      fmt.Sprintf("TXN%012d", i),
			MerchantID:         "M1000001",
			ReceiverMerchantID: "M1000002",
			Timestamp:          base.Add(time.Duration(i) * 7 * time.Minute),
			Amount:             float64(i%97)*103.37 + 30,
			PaymentMethod:      "UPI",
			Status:             domain.StatusSuccess,
			Platform:           "Web",
			ProductCategory:    "Retail",
			CustomerID:         fmt.Sprintf("customer-%04d", i),
			DeviceID:           fmt.Sprintf("device-%04d", i),
			CustomerLocation:   "Pune",
		}
	}
	return txs
}

func newInjector(seed uint64) *Injector {
	return New(domain.DefaultCatalog(), random.New(seed))
}

func TestInjectAlwaysApplies(t *testing.T) {
	in := batch(200)

	t.Run("LateNightTrading", func(t *testing.T) {
		out, n := newInjector(1).Inject(in, LateNightTrading, DefaultConfig(LateNightTrading).WithProbability(1))
		if n != len(in) {
			t.Fatalf("expected %d affected, got %d", len(in), n)
		}
		for i, tx := range out {
			if !tx.TimeFlag {
				t.Fatalf("tx %d: time_flag not set", i)
			}
			if h := tx.Timestamp.Hour(); h < 0 || h > 5 {
				t.Fatalf("tx %d: hour %d outside [0,5]", i, h)
			}
			if tx.Timestamp.YearDay() != in[i].Timestamp.YearDay() || tx.Timestamp.Minute() != in[i].Timestamp.Minute() {
				t.Fatalf("tx %d: only the hour may change", i)
			}
		}
	})

	t.Run("SuddenSpike", func(t *testing.T) {
		out, _ := newInjector(2).Inject(in, SuddenSpike, Config{Probability: 1, Multiplier: 5})
		for i, tx := range out {
			if tx.Amount != in[i].Amount*5 {
				t.Fatalf("tx %d: expected %v, got %v", i, in[i].Amount*5, tx.Amount)
			}
			if !tx.AmountFlag {
				t.Fatalf("tx %d: amount_flag not set", i)
			}
		}
	})

	t.Run("RoundAmount", func(t *testing.T) {
		out, _ := newInjector(3).Inject(in, RoundAmount, DefaultConfig(RoundAmount).WithProbability(1))
		for i, tx := range out {
			if !amount.IsRound(tx.Amount, 100) {
				t.Fatalf("tx %d: %v is not a multiple of 100", i, tx.Amount)
			}
			if tx.Amount <= 0 {
				t.Fatalf("tx %d: amount %v is not positive", i, tx.Amount)
			}
			if !tx.AmountFlag {
				t.Fatalf("tx %d: amount_flag not set", i)
			}
		}
	})

	t.Run("RoundAmountClampsSmallValues", func(t *testing.T) {
		small := batch(1)
		small[0].Amount = 30
		out, _ := newInjector(4).Inject(small, RoundAmount, Config{Probability: 1})
		if out[0].Amount != 100 {
			t.Errorf("expected 30 to clamp to 100, got %v", out[0].Amount)
		}
	})

	t.Run("CustomerConcentration", func(t *testing.T) {
		out, _ := newInjector(5).Inject(in, CustomerConcentration, DefaultConfig(CustomerConcentration).WithProbability(1))
		if got := distinct(out, func(tx *domain.Transaction) string { return tx.CustomerID }); got > 3 {
			t.Errorf("expected at most 3 customers, got %d", got)
		}
		for _, tx := range out {
			if tx.Flagged() {
				t.Fatal("customer_concentration must not set flags")
			}
		}
	})

	t.Run("DeviceSwitching", func(t *testing.T) {
		out, _ := newInjector(6).Inject(in, DeviceSwitching, DefaultConfig(DeviceSwitching).WithProbability(1))
		if got := distinct(out, func(tx *domain.Transaction) string { return tx.DeviceID }); got > 3 {
			t.Errorf("expected at most 3 devices, got %d", got)
		}
		for _, tx := range out {
			if !tx.DeviceFlag {
				t.Fatal("device_flag not set")
			}
		}
	})

	t.Run("LocationHopping", func(t *testing.T) {
		out, _ := newInjector(7).Inject(in, LocationHopping, DefaultConfig(LocationHopping).WithProbability(1))
		if got := distinct(out, func(tx *domain.Transaction) string { return tx.CustomerLocation }); got > 5 {
			t.Errorf("expected at most 5 locations, got %d", got)
		}
	})

	t.Run("VelocityAbuse", func(t *testing.T) {
		out, _ := newInjector(8).Inject(in, VelocityAbuse, DefaultConfig(VelocityAbuse).WithProbability(1))
		for i, tx := range out {
			shift := tx.Timestamp.Sub(in[i].Timestamp)
			if shift < 30*time.Second || shift > 300*time.Second {
				t.Fatalf("tx %d: shift %v outside [30s,300s]", i, shift)
			}
			if !tx.VelocityFlag {
				t.Fatalf("tx %d: velocity_flag not set", i)
			}
		}
	})

	t.Run("PaymentMethodCycling", func(t *testing.T) {
		methods := domain.DefaultCatalog().PaymentMethods
		out, _ := newInjector(9).Inject(in, PaymentMethodCycling, DefaultConfig(PaymentMethodCycling).WithProbability(1))
		for i, tx := range out {
			if !slices.Contains(methods, tx.PaymentMethod) {
				t.Fatalf("tx %d: unknown payment method %q", i, tx.PaymentMethod)
			}
		}
		if distinct(out, func(tx *domain.Transaction) string { return tx.PaymentMethod }) < 2 {
			t.Error("expected payment methods to vary")
		}
	})
}

func TestInjectCopyOnWrite(t *testing.T) {
	in := batch(50)
	snapshot := make([]domain.Transaction, len(in))
	for i, tx := range in {
		snapshot[i] = *tx
	}

	for _, p := range AllPatterns() {
		out, _ := newInjector(11).Inject(in, p, DefaultConfig(p).WithProbability(1))
		for i := range in {
			if out[i] == in[i] {
				t.Fatalf("%s: output shares a pointer with the input", p)
			}
			if *in[i] != snapshot[i] {
				t.Fatalf("%s: input transaction %d was modified", p, i)
			}
		}
	}
}

func TestInjectUnknownPatternIsNoop(t *testing.T) {
	in := batch(10)
	out, n := newInjector(12).Inject(in, Pattern("card_testing"), Config{Probability: 1})
	if n != 0 {
		t.Errorf("expected 0 affected, got %d", n)
	}
	for i := range in {
		if *out[i] != *in[i] {
			t.Fatalf("tx %d changed under an unknown pattern", i)
		}
	}
}

func TestInjectProbability(t *testing.T) {
	in := batch(2000)

	_, none := newInjector(13).Inject(in, SuddenSpike, Config{Probability: 0})
	if none != 0 {
		t.Errorf("probability 0 mutated %d transactions", none)
	}

	out, half := newInjector(14).Inject(in, SuddenSpike, Config{Probability: 0.5, Multiplier: 5})
	if half < 850 || half > 1150 {
		t.Errorf("probability 0.5 mutated %d of 2000", half)
	}
	flagged := 0
	for _, tx := range out {
		if tx.AmountFlag {
			flagged++
		}
	}
	if flagged != half {
		t.Errorf("affected count %d does not match flagged count %d", half, flagged)
	}
}

func TestInjectDeterministic(t *testing.T) {
	in := batch(100)
	a, _ := newInjector(21).Inject(in, LocationHopping, Config{Probability: 0.3})
	b, _ := newInjector(21).Inject(in, LocationHopping, Config{Probability: 0.3})
	for i := range a {
		if *a[i] != *b[i] {
			t.Fatalf("tx %d differs for the same seed", i)
		}
	}
}

func TestParsePattern(t *testing.T) {
	for _, p := range AllPatterns() {
		got, err := ParsePattern(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePattern(%q) = %q, %v", p, got, err)
		}
	}
	if got, err := ParsePattern(" Round_Amount "); err != nil || got != RoundAmount {
		t.Errorf("expected case and space insensitive parse, got %q, %v", got, err)
	}
	if _, err := ParsePattern("money_mule"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func distinct(txs []*domain.Transaction, key func(*domain.Transaction) string) int {
	seen := make(map[string]struct{})
	for _, tx := range txs {
		seen[key(tx)] = struct{}{}
	}
	return len(seen)
}
