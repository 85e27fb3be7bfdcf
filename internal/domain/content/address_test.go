package content

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Digest([]byte("abc")))
	assert.Len(t, Digest(nil), 64)
}

func TestVerify(t *testing.T) {
	data := []byte("%PDF-1.7 sample")
	d := Digest(data)

	require.NoError(t, Verify(data, d))
	require.NoError(t, Verify(data, strings.ToUpper(d)))

	err := Verify(append(data, '!'), d)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestKeyGenerator_Format(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 10, 30, 0, 123, time.UTC)
	g := NewKeyGeneratorWithClock(func() time.Time { return fixed })

	key := g.Next("C1", 2024, "primary-form")
	assert.Equal(t, "C1/2024/primary-form/20240315T103000.000000123Z", key)
}

func TestKeyGenerator_NeverRepeatsOnFrozenClock(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	g := NewKeyGeneratorWithClock(func() time.Time { return fixed })

	first := g.Next("C1", 2024, "memo")
	second := g.Next("C1", 2024, "memo")

	assert.NotEqual(t, first, second)
	assert.Less(t, first, second)
}

func TestKeyGenerator_Concurrent(t *testing.T) {
	g := NewKeyGenerator()
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := g.Next("C1", 2024, "narrative")
			mu.Lock()
			seen[k] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"C1", "C1"},
		{"acme/../corp", "acme_.._corp"},
		{"  spaced name ", "spaced_name"},
		{"..", "_"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeComponent(tt.in))
		})
	}
}
