package script

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeActions struct {
	mu     sync.Mutex
	talks  []string
	items  map[int32]int32
	exp    int64
	warped int32
	quests map[int32]bool
}

func newFakeActions() *fakeActions {
	return &fakeActions{
		items:  make(map[int32]int32),
		quests: make(map[int32]bool),
	}
}

func (a *fakeActions) SendTalk(_ byte, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.talks = append(a.talks, text)
}

func (a *fakeActions) GiveItem(itemID, quantity int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[itemID] += quantity
	return true
}

func (a *fakeActions) HasItem(itemID, quantity int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.items[itemID] >= quantity
}

func (a *fakeActions) TakeItem(itemID, quantity int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.items[itemID] < quantity {
		return false
	}
	a.items[itemID] -= quantity
	return true
}

func (a *fakeActions) GiveExp(exp int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exp += exp
}

func (a *fakeActions) GiveMeso(int32) bool { return true }

func (a *fakeActions) Warp(mapID int32, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warped = mapID
}

func (a *fakeActions) StartQuest(questID int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quests[questID] = true
}

func (a *fakeActions) CompleteQuest(questID int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.quests, questID)
}

func (a *fakeActions) HasQuestStarted(questID int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quests[questID]
}

func (a *fakeActions) Level() int16 { return 30 }
func (a *fakeActions) Job() int16   { return 100 }

func (a *fakeActions) talkCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.talks)
}

func waitForTalks(t *testing.T, a *fakeActions, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.talkCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("script never reached talk %d", n)
}

func waitForEnd(t *testing.T, c *Conversation) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Ended() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("conversation never ended")
}

func TestConversationQuestFlow(t *testing.T) {
	m := NewManager(zap.NewNop())
	err := m.LoadSource("quest_npc", `
		say("Bring me 10 mushroom caps.")
		if askYesNo("Will you help?") then
			startQuest(2000)
			say("Good luck!")
		else
			say("Come back when you change your mind.")
		end
	`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	a := newFakeActions()
	c, err := m.Start("quest_npc", a)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForTalks(t, a, 1)
	c.Resume(Response{Action: 1}) // next
	waitForTalks(t, a, 2)
	c.Resume(Response{Action: 1, Answer: 1}) // yes
	waitForTalks(t, a, 3)
	c.Resume(Response{Action: 1})
	waitForEnd(t, c)

	if !a.HasQuestStarted(2000) {
		t.Fatal("quest not started after accepting")
	}
	if got := a.talks[2]; got != "Good luck!" {
		t.Fatalf("final line = %q", got)
	}
}

func TestConversationEndMidScript(t *testing.T) {
	m := NewManager(zap.NewNop())
	if err := m.LoadSource("chatty", `
		say("one")
		say("two")
		giveExp(100)
	`); err != nil {
		t.Fatal(err)
	}

	a := newFakeActions()
	c, err := m.Start("chatty", a)
	if err != nil {
		t.Fatal(err)
	}
	waitForTalks(t, a, 1)
	c.End()
	waitForEnd(t, c)

	// Ending mid-conversation aborts the script before later effects.
	time.Sleep(20 * time.Millisecond)
	if a.exp != 0 {
		t.Fatal("script kept running after End")
	}
}

func TestDeclineAbortsScript(t *testing.T) {
	m := NewManager(zap.NewNop())
	if err := m.LoadSource("greedy", `
		say("pay up")
		giveExp(100)
	`); err != nil {
		t.Fatal(err)
	}

	a := newFakeActions()
	c, err := m.Start("greedy", a)
	if err != nil {
		t.Fatal(err)
	}
	waitForTalks(t, a, 1)
	c.Resume(Response{Action: 0}) // client closed the dialogue
	waitForEnd(t, c)

	time.Sleep(20 * time.Millisecond)
	if a.exp != 0 {
		t.Fatal("declined script still ran its tail")
	}
}

func TestUnknownScript(t *testing.T) {
	m := NewManager(zap.NewNop())
	if _, err := m.Start("missing", newFakeActions()); err == nil {
		t.Fatal("starting an unknown script succeeded")
	}
}
