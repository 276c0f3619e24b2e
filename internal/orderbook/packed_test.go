package orderbook

import (
	"math/rand"
	"sync"
	"testing"
)

func TestNewBookStartsUnknown(t *testing.T) {
	b := New()
	s := b.Load()
	if s.YesPrice != NoPrice || s.NoPrice != NoPrice {
		t.Fatalf("initial prices = %d/%d, want sentinel", s.YesPrice, s.NoPrice)
	}
	if s.YesSize != 0 || s.NoSize != 0 {
		t.Fatalf("initial sizes = %d/%d, want 0/0", s.YesSize, s.NoSize)
	}
	if s.HasPrices() {
		t.Fatal("HasPrices should be false for a fresh book")
	}
}

func TestPackRoundTrip(t *testing.T) {
	edges := []uint16{0, 1, 50, 99, 100, NoPrice}
	for _, yp := range edges {
		for _, np := range edges {
			for _, ys := range []uint16{0, 1, 1000, 0xFFFE, 0xFFFF} {
				for _, ns := range []uint16{0, 7, 4242, 0xFFFF} {
					got := Unpack(Pack(yp, np, ys, ns))
					want := Snapshot{YesPrice: yp, NoPrice: np, YesSize: ys, NoSize: ns}
					if got != want {
						t.Fatalf("round trip %+v -> %+v", want, got)
					}
				}
			}
		}
	}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		want := Snapshot{
			YesPrice: uint16(r.Intn(0x10000)),
			NoPrice:  uint16(r.Intn(0x10000)),
			YesSize:  uint16(r.Intn(0x10000)),
			NoSize:   uint16(r.Intn(0x10000)),
		}
		if got := Unpack(Pack(want.YesPrice, want.NoPrice, want.YesSize, want.NoSize)); got != want {
			t.Fatalf("round trip %+v -> %+v", want, got)
		}
	}
}

func TestUpdatePreservesOtherSide(t *testing.T) {
	b := New()
	b.UpdateYes(45, 900)
	b.UpdateNo(50, 1000)

	s := b.Load()
	if s != (Snapshot{YesPrice: 45, NoPrice: 50, YesSize: 900, NoSize: 1000}) {
		t.Fatalf("snapshot = %+v", s)
	}

	b.UpdateYes(44, 10)
	s = b.Load()
	if s.NoPrice != 50 || s.NoSize != 1000 {
		t.Fatalf("NO side changed by YES update: %+v", s)
	}
	if s.YesPrice != 44 || s.YesSize != 10 {
		t.Fatalf("YES side not applied: %+v", s)
	}
}

func TestSnapshotMaxContracts(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"balanced", Snapshot{YesPrice: 45, NoPrice: 50, YesSize: 1000, NoSize: 1000}, 20},
		{"yes constrained", Snapshot{YesPrice: 50, NoPrice: 40, YesSize: 100, NoSize: 4000}, 2},
		{"unknown price", Snapshot{YesPrice: NoPrice, NoPrice: 40, YesSize: 100, NoSize: 4000}, 0},
		{"zero price", Snapshot{YesPrice: 0, NoPrice: 40, YesSize: 100, NoSize: 4000}, 0},
		{"no liquidity", Snapshot{YesPrice: 45, NoPrice: 50, YesSize: 0, NoSize: 1000}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.snap.MaxContracts(); got != tc.want {
				t.Errorf("MaxContracts() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestUpdateRejectsImpossiblePrice(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for price 101")
		}
	}()
	New().UpdateYes(101, 1)
}

func TestLoadPanicsOnCorruptWord(t *testing.T) {
	b := New()
	b.word.Store(Pack(150, 50, 0, 0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic decoding price 150")
		}
	}()
	b.Load()
}

// Each writer encodes its own side so that size == k*price for a constant k
// per side. A torn read would break that relation on at least one side.
func TestConcurrentUpdatesNeverTear(t *testing.T) {
	const iterations = 20000
	b := New()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			p := uint16(i%100 + 1)
			b.UpdateYes(p, p*3)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			p := uint16((i*7)%100 + 1)
			b.UpdateNo(p, p*7)
		}
	}()

	var readers sync.WaitGroup
	errs := make(chan Snapshot, 1)
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := b.Load()
				if s.YesPrice != NoPrice && s.YesSize != s.YesPrice*3 {
					select {
					case errs <- s:
					default:
					}
					return
				}
				if s.NoPrice != NoPrice && s.NoSize != s.NoPrice*7 {
					select {
					case errs <- s:
					default:
					}
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	select {
	case s := <-errs:
		t.Fatalf("torn snapshot observed: %+v", s)
	default:
	}

	final := b.Load()
	lastYes := uint16((iterations-1)%100 + 1)
	lastNo := uint16(((iterations-1)*7)%100 + 1)
	if final.YesPrice != lastYes || final.NoPrice != lastNo {
		t.Fatalf("final = %+v, want yes=%d no=%d (an update was lost)", final, lastYes, lastNo)
	}
}

func BenchmarkUpdateYes(b *testing.B) {
	book := New()
	for i := 0; i < b.N; i++ {
		book.UpdateYes(uint16(i%100), 1000)
	}
}

func BenchmarkLoad(b *testing.B) {
	book := New()
	book.UpdateYes(45, 1000)
	book.UpdateNo(50, 1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = book.Load()
	}
}
