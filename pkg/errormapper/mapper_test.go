package errormapper

import (
	"testing"

	"github.com/linxGnu/gosmpp/data"
	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	assert.Equal(t, "No Error", Describe(data.ESME_ROK))
	assert.Equal(t, "Invalid Dest Addr", Describe(0x0B))
	assert.Equal(t, "Unknown status", Describe(0x0400))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "000", Code(data.ESME_ROK))
	assert.Equal(t, "058", Code(0x58))
	assert.Equal(t, "45A", Code(0x045A))
}

func TestIsThrottling(t *testing.T) {
	assert.True(t, IsThrottling(0x58))
	assert.True(t, IsThrottling(0x14))
	assert.False(t, IsThrottling(0x08))
}
