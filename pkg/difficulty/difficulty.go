// Package difficulty implements the damped moving-average difficulty
// retarget algorithm (C3 in spec.md) that HeaderSync consults to
// accept or reject a chain of headers.
package difficulty

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/dennisvanderpool/mwc-node/pkg/metrics"
)

// Consensus constants for the retarget window. These pin the exact
// ratios reproduced by the S1-S5 scenarios in spec.md §8.
const (
	// AdjustWindow is the number of trailing headers the retarget
	// looks at (DIFFICULTY_ADJUST_WINDOW).
	AdjustWindow = 60
	// BlockTimeSec is the target spacing between blocks, in seconds.
	BlockTimeSec = 60
	// blockTimeWindow is the target duration of one full window.
	blockTimeWindow = AdjustWindow * BlockTimeSec
	// DampFactor dampens the timestamp delta toward the goal before
	// clamping it.
	DampFactor = 3
	// ClampFactor bounds the damped delta to [goal/ClampFactor,
	// goal*ClampFactor] to resist timestamp manipulation.
	ClampFactor = 2
	// ArScaleDampFactor dampens the secondary PoW scaling moving
	// average.
	ArScaleDampFactor = 13
	// MinDifficulty is the floor below which difficulty never drops.
	// It equals DampFactor so that a window sitting on the floor can
	// still retarget upward under integer division.
	MinDifficulty = DampFactor
	// MinSecondaryScaling is the floor for the secondary scaling
	// factor.
	MinSecondaryScaling = 1
)

// Difficulty is an unsigned cumulative-work counter.
type Difficulty uint64

// Min returns the difficulty floor.
func Min() Difficulty { return Difficulty(MinDifficulty) }

// Zero returns the zero difficulty.
func Zero() Difficulty { return Difficulty(0) }

// FromNum builds a Difficulty from a raw number.
func FromNum(n uint64) Difficulty { return Difficulty(n) }

// ToNum returns the raw numeric value.
func (d Difficulty) ToNum() uint64 { return uint64(d) }

// HeaderDifficultyInfo is one entry of the trailing retarget window:
// a header's timestamp, difficulty, secondary scaling, and whether it
// was mined with the secondary PoW.
type HeaderDifficultyInfo struct {
	Timestamp        int64
	Difficulty       Difficulty
	SecondaryScaling uint32
	IsSecondary      bool
}

// Result is the next header's computed difficulty and secondary
// scaling.
type Result struct {
	Difficulty       Difficulty
	SecondaryScaling uint32
}

// Engine computes next-header difficulty from a trailing window of
// HeaderDifficultyInfo. It carries a small cache of recent results so
// adjacent-height queries (the common case while syncing a long batch
// of headers) don't redo the full window scan.
type Engine struct {
	cache *lru.Cache // key: cacheKey, value: Result
}

type cacheKey struct {
	firstTS, lastTS int64
	diffSum         uint64
}

// NewEngine builds a difficulty engine with a bounded result cache.
func NewEngine(cacheSize int) *Engine {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	c, _ := lru.New(cacheSize)
	return &Engine{cache: c}
}

func damp(actual, goal, factor uint64) uint64 {
	return (actual + (factor-1)*goal) / factor
}

func clampU(actual, goal, factor uint64) uint64 {
	lower := goal / factor
	upper := goal * factor
	if actual < lower {
		return lower
	}
	if actual > upper {
		return upper
	}
	return actual
}

// padToWindow mirrors the original implementation's handling of a
// window shorter than AdjustWindow+1: it simulates earlier blocks by
// decrementing the timestamp by the observed (or default) spacing and
// repeating the earliest known difficulty, so early-chain retargets
// still produce a sane value instead of dividing by a near-zero delta.
func padToWindow(window []HeaderDifficultyInfo) []HeaderDifficultyInfo {
	needed := AdjustWindow + 1
	if len(window) >= needed {
		return window[len(window)-needed:]
	}
	out := make([]HeaderDifficultyInfo, len(window))
	copy(out, window)

	lastDelta := int64(BlockTimeSec)
	if len(out) > 1 {
		lastDelta = out[0].Timestamp - out[1].Timestamp
		if lastDelta < 0 {
			lastDelta = -lastDelta
		}
	}
	lastDiff := out[0].Difficulty
	lastTS := out[0].Timestamp
	var pad []HeaderDifficultyInfo
	for len(pad)+len(out) < needed {
		lastTS -= lastDelta
		if lastTS < 0 {
			lastTS = 0
		}
		pad = append(pad, HeaderDifficultyInfo{Timestamp: lastTS, Difficulty: lastDiff})
	}
	// pad is built newest-first going back from the earliest real entry;
	// reverse it so index 0 is oldest, then append the ascending window.
	for i, j := 0, len(pad)-1; i < j; i, j = i+1, j-1 {
		pad[i], pad[j] = pad[j], pad[i]
	}
	return append(pad, out...)
}

// NextDifficulty computes the difficulty and secondary scaling for the
// header that follows window (window ordered oldest-to-newest, ideally
// AdjustWindow+1 entries; shorter windows are padded per padToWindow).
func (e *Engine) NextDifficulty(window []HeaderDifficultyInfo) Result {
	if len(window) == 0 {
		res := Result{Difficulty: Min(), SecondaryScaling: MinSecondaryScaling}
		metrics.RecordDifficultyRetarget(res.Difficulty.ToNum())
		return res
	}
	w := padToWindow(window)

	first, last := w[0], w[len(w)-1]
	tsDelta := last.Timestamp - first.Timestamp
	if tsDelta < 0 {
		tsDelta = 0
	}

	var diffSum uint64
	for _, h := range w[1:] {
		diffSum += h.Difficulty.ToNum()
	}

	key := cacheKey{firstTS: first.Timestamp, lastTS: last.Timestamp, diffSum: diffSum}
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			cached := v.(Result)
			metrics.RecordDifficultyRetarget(cached.Difficulty.ToNum())
			return cached
		}
	}

	adjTS := clampU(damp(uint64(tsDelta), blockTimeWindow, DampFactor), blockTimeWindow, ClampFactor)

	nextDiff := diffSum * BlockTimeSec / adjTS
	if nextDiff < MinDifficulty {
		nextDiff = MinDifficulty
	}

	res := Result{
		Difficulty:       Difficulty(nextDiff),
		SecondaryScaling: secondaryScaling(w),
	}
	if e.cache != nil {
		e.cache.Add(key, res)
	}
	metrics.RecordDifficultyRetarget(res.Difficulty.ToNum())
	return res
}

// secondaryScaling computes a damped moving average of the secondary
// PoW scaling factor over the trailing window, floored at
// MinSecondaryScaling.
func secondaryScaling(w []HeaderDifficultyInfo) uint32 {
	needed := 2 * ArScaleDampFactor
	if needed > len(w) {
		needed = len(w)
	}
	tail := w[len(w)-needed:]

	var sum uint64
	for _, h := range tail {
		sum += uint64(h.SecondaryScaling)
		if h.SecondaryScaling == 0 {
			sum += MinSecondaryScaling
		}
	}
	avg := damp(sum, uint64(len(tail))*MinSecondaryScaling, ArScaleDampFactor)
	if avg < MinSecondaryScaling {
		avg = MinSecondaryScaling
	}
	return uint32(avg)
}
