package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatSuccess("saved"), "saved")
	assert.Contains(t, FormatError("failed"), ErrorIcon)
	assert.Contains(t, FormatLabel(model.LabelSevere), "SEVERE")
	assert.Contains(t, FormatLabel(model.LabelNormal), "NORMAL")
	assert.Contains(t, FormatScore(0.9091), "0.91")
	assert.Contains(t, FormatReady(false), "unavailable")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable(
		[]string{"Version", "Data hash"},
		[][]string{{"v20240301_090000", "abc"}, {"v20240302_090000"}},
	)
	lines := strings.Split(out, "\n")
	assert.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, out, "v20240301_090000")
	assert.Contains(t, out, "Data hash")
}

func TestStageProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewStageProgress(&buf, 3, "Training")
	p.Stage("embedding")
	p.Stage("merchants")
	p.Stage("categories")
	p.Finish()
	assert.NotEmpty(t, buf.String())
}
