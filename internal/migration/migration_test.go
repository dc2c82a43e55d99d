package migration

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func ticket(characterID int32) *Info {
	return &Info{
		ChannelID:   1,
		AccountID:   1000,
		CharacterID: characterID,
		MachineID:   [16]byte{1, 2, 3},
		ClientKey:   [8]byte{9, 8, 7},
	}
}

func TestConsumeHappyPath(t *testing.T) {
	r := NewRegistry(time.Minute)
	in := ticket(42)
	r.Grant(in)

	out, err := r.Consume(1, 1000, 42, in.MachineID, in.ClientKey, time.Now())
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if out.State() != StateConsumed {
		t.Fatalf("state = %v, want consumed", out.State())
	}
	if r.Len() != 0 {
		t.Fatal("ticket still registered after consume")
	}
}

func TestConsumeExactlyOnce(t *testing.T) {
	r := NewRegistry(time.Minute)
	in := ticket(42)
	r.Grant(in)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Consume(1, 1000, 42, in.MachineID, in.ClientKey, time.Now()); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("ticket consumed %d times, want exactly once", n)
	}
}

func TestConsumeRejectsMismatch(t *testing.T) {
	in := ticket(42)
	now := time.Now()

	cases := []struct {
		name      string
		channelID int
		accountID int32
		machineID [16]byte
		clientKey [8]byte
	}{
		{"wrong channel", 2, 1000, in.MachineID, in.ClientKey},
		{"wrong account", 1, 2000, in.MachineID, in.ClientKey},
		{"wrong machine", 1, 1000, [16]byte{0xFF}, in.ClientKey},
		{"wrong client key", 1, 1000, in.MachineID, [8]byte{0xFF}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(time.Minute)
			in := ticket(42)
			r.Grant(in)

			_, err := r.Consume(tc.channelID, tc.accountID, 42, tc.machineID, tc.clientKey, now)
			if !errors.Is(err, ErrMismatch) {
				t.Fatalf("err = %v, want ErrMismatch", err)
			}

			// A mismatch spends the ticket: no silent retry, not even
			// for the genuine client.
			if in.State() != StateRejected {
				t.Fatalf("state = %v, want rejected", in.State())
			}
			if r.Len() != 0 {
				t.Fatal("mismatched ticket left registered")
			}
			if _, err := r.Consume(1, 1000, 42, in.MachineID, in.ClientKey, now); !errors.Is(err, ErrNoTicket) {
				t.Fatalf("consume after mismatch = %v, want ErrNoTicket", err)
			}
		})
	}
}

func TestConsumeExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	in := ticket(42)
	r.Grant(in)

	_, err := r.Consume(1, 1000, 42, in.MachineID, in.ClientKey, time.Now().Add(2*time.Minute))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if r.Len() != 0 {
		t.Fatal("expired ticket not removed")
	}

	// Gone for good: a retry inside a fresh window finds nothing.
	_, err = r.Consume(1, 1000, 42, in.MachineID, in.ClientKey, time.Now())
	if !errors.Is(err, ErrNoTicket) {
		t.Fatalf("err = %v, want ErrNoTicket", err)
	}
}

func TestGrantReplacesOutstandingTicket(t *testing.T) {
	r := NewRegistry(time.Minute)
	first := ticket(42)
	r.Grant(first)

	second := ticket(42)
	second.ChannelID = 3
	r.Grant(second)

	if first.State() != StateRejected {
		t.Fatalf("replaced ticket state = %v, want rejected", first.State())
	}
	if _, err := r.Consume(3, 1000, 42, second.MachineID, second.ClientKey, time.Now()); err != nil {
		t.Fatalf("new ticket consume failed: %v", err)
	}
	if _, err := r.Consume(1, 1000, 42, first.MachineID, first.ClientKey, time.Now()); !errors.Is(err, ErrNoTicket) {
		t.Fatalf("replaced ticket still consumable: %v", err)
	}
}

func TestSweep(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Grant(ticket(1))
	r.Grant(ticket(2))

	if n := r.Sweep(time.Now()); n != 0 {
		t.Fatalf("sweep removed %d live tickets", n)
	}
	if n := r.Sweep(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Fatalf("sweep removed %d tickets, want 2", n)
	}
	if r.Len() != 0 {
		t.Fatal("tickets remain after sweep")
	}
}
