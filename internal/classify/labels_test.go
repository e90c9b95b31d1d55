package classify

import (
	"go/format"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

// 标签表手工维护，保持 gofmt 对齐
func TestLabelTablesAreFormatted(t *testing.T) {
	src, err := os.ReadFile("labels.go")
	require.NoError(t, err)
	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src))
}

func TestLabelTables_MeetingRequest(t *testing.T) {
	assert.Equal(t, model.UrgencyMeeting, urgencyMistakes["meeting_request"])
	assert.Equal(t, model.CategoryMeetingRequest, categoryLikeUrgency["meeting_request"])
}
