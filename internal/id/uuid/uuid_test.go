package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	_, err = goUUID.Parse(id1)
	assert.NoError(t, err)
	_, err = goUUID.Parse(id2)
	assert.NoError(t, err)
}

func TestGeneratorIDsAreVersion7(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	s, err := gen.NewID()
	require.NoError(t, err)
	id, err := goUUID.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), id.Version())
}
