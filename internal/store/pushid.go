package store

import (
	"crypto/rand"
	"sync"
	"time"
)

// pushChars is ordered by ASCII value so generated keys sort by creation time.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// PushKeys generates 20 character keys: 8 characters of millisecond
// timestamp followed by 12 random characters. Keys created in the same
// millisecond increment the random part, so keys from one generator are
// strictly increasing.
type PushKeys struct {
	mu       sync.Mutex
	lastTime int64
	lastRand [12]int
	now      func() time.Time
}

func NewPushKeys() *PushKeys {
	return &PushKeys{now: time.Now}
}

var defaultKeys = NewPushKeys()

// NewPushKey uses a process-wide generator.
func NewPushKey() string {
	return defaultKeys.Next()
}

func (g *PushKeys) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTime {
		// clock went backwards, keep ordering
		now = g.lastTime
	}
	if now == g.lastTime {
		g.increment()
	} else {
		var buf [12]byte
		_, _ = rand.Read(buf[:])
		for i, b := range buf {
			g.lastRand[i] = int(b) % 64
		}
	}
	g.lastTime = now

	var key [20]byte
	ts := now
	for i := 7; i >= 0; i-- {
		key[i] = pushChars[ts%64]
		ts /= 64
	}
	for i := 0; i < 12; i++ {
		key[8+i] = pushChars[g.lastRand[i]]
	}
	return string(key[:])
}

func (g *PushKeys) increment() {
	i := 11
	for ; i >= 0 && g.lastRand[i] == 63; i-- {
		g.lastRand[i] = 0
	}
	if i >= 0 {
		g.lastRand[i]++
	}
}
