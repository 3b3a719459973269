package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600))
	name := ObjectName("appeals/12", "image/png", now)

	assert.True(t, strings.HasPrefix(name, "appeals/12/2024/03/01/"), name)
	assert.True(t, strings.HasSuffix(name, ".png"), name)
	assert.NotEqual(t, name, ObjectName("appeals/12", "image/png", now))
}

func TestAllowedContentType(t *testing.T) {
	assert.True(t, AllowedContentType("image/jpeg"))
	assert.True(t, AllowedContentType("application/pdf"))
	assert.False(t, AllowedContentType("text/html"))
}
