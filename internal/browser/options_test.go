package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
)

func TestOptionsAppendsExecPathOnlyWhenSet(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	headless := Options(true, "")
	withPath := Options(true, "/opt/chrome/chrome")
	visible := Options(false, "")

	assert.Greater(t, len(headless), base)
	assert.Len(t, withPath, len(headless)+1)
	// disable-gpu is only added when headless
	assert.Len(t, visible, len(headless)-1)
}
