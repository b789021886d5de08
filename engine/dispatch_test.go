package engine

import (
	"testing"

	"github.com/hupe1980/polymesh/core"
	"github.com/stretchr/testify/assert"
)

func TestDetectPython(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	source := "def greet(name):\n    return f\"hi {name}\"\n"
	assert.Equal(t, "python", d.Detect(ctx, source))
}

func TestDetectJS(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	source := "const total = items.reduce((a, b) => a + b, 0);\nconsole.log(total);"
	assert.Equal(t, "js", d.Detect(ctx, source))
}

func TestDetectNative(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	assert.Equal(t, "native", d.Detect(ctx, "$set total 0\n$call accumulate total"))
}

func TestDetectFallsBackToReasoning(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	assert.Equal(t, Reasoning, d.Detect(ctx, "please summarize the quarterly report"))
	assert.Equal(t, Reasoning, d.Detect(ctx, ""))
}

func TestDetectStickyBonusBreaksAmbiguity(t *testing.T) {
	d := NewDetector()

	// "x = 1" scores for both js (weak) and native (assignment pattern);
	// a preceding python run must not hijack it since python scores zero
	ctx := core.NewContext()
	ctx.SetLastLanguage("python")
	ambiguous := "x = 1"
	first := d.Detect(ctx, ambiguous)
	assert.NotEqual(t, Reasoning, first)

	// after a native run the same snippet stays native
	ctx.SetLastLanguage("native")
	assert.Equal(t, "native", d.Detect(ctx, ambiguous))
}

func TestDetectStickyRequiresEvidence(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()
	ctx.SetLastLanguage("js")

	// prose after a code run must still reach the reasoning engine; the
	// sticky bonus only amplifies languages that already score
	assert.Equal(t, Reasoning, d.Detect(ctx, "please summarize the quarterly report"))
}

func TestDetectIsDeterministic(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	source := "import os\nprint(os.getcwd())"
	want := d.Detect(ctx, source)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, d.Detect(ctx, source))
	}
}

func TestDetectAntiMarkersSuppress(t *testing.T) {
	d := NewDetector()
	ctx := core.NewContext()

	// python keywords inside obvious javascript must not win
	source := "function render() { const x = 1; return x === 1; }"
	assert.Equal(t, "js", d.Detect(ctx, source))
}
