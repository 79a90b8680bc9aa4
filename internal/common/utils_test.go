package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a,b ,, a,c,"))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
}
