package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxzi/arrsync/internal/models"
)

func TestInitialize(t *testing.T) {
	got := Initialize([]string{"a", "b"})
	assert.Equal(t, Resolutions{
		"a": models.ResolutionUseTemplate,
		"b": models.ResolutionUseTemplate,
	}, got)
}

func TestMerge_KeepsExistingChoices(t *testing.T) {
	existing := Resolutions{"a": models.ResolutionKeepExisting}

	got := Merge(existing, []string{"a", "c"})

	assert.Equal(t, models.ResolutionKeepExisting, got["a"])
	assert.Equal(t, models.ResolutionUseTemplate, got["c"])
	assert.Len(t, existing, 1, "input map must not be mutated")
}

func TestMerge_KeepsChoicesForConflictsThatDisappeared(t *testing.T) {
	got := Merge(Resolutions{"gone": models.ResolutionKeepExisting}, []string{"a"})
	assert.Equal(t, models.ResolutionKeepExisting, got["gone"])
	assert.Len(t, got, 2)
}

func TestGet_DefaultsMissingAndInvalid(t *testing.T) {
	r := Resolutions{"bad": models.Resolution("nonsense"), "keep": models.ResolutionKeepExisting}
	assert.Equal(t, models.ResolutionUseTemplate, r.Get("missing"))
	assert.Equal(t, models.ResolutionUseTemplate, r.Get("bad"))
	assert.Equal(t, models.ResolutionKeepExisting, r.Get("keep"))

	var nilMap Resolutions
	assert.Equal(t, models.ResolutionUseTemplate, nilMap.Get("x"))
}

func TestStore_BackgroundRefreshDoesNotClobber(t *testing.T) {
	s := NewStore()

	s.Merge("t1", "i1", []string{"a", "b"})
	s.Set("t1", "i1", "a", models.ResolutionKeepExisting)

	// plan recomputed while the user is reviewing it
	got := s.Merge("t1", "i1", []string{"a", "b", "c"})

	assert.Equal(t, models.ResolutionKeepExisting, got["a"])
	assert.Equal(t, models.ResolutionUseTemplate, got["b"])
	assert.Equal(t, models.ResolutionUseTemplate, got["c"])
}

func TestStore_ScopedPerPair(t *testing.T) {
	s := NewStore()
	s.Set("t1", "i1", "a", models.ResolutionKeepExisting)

	assert.Nil(t, s.Get("t1", "i2"))
	assert.Equal(t, models.ResolutionKeepExisting, s.Get("t1", "i1")["a"])

	s.Reset("t1", "i1")
	assert.Nil(t, s.Get("t1", "i1"))
}

func TestStore_ResetTemplate(t *testing.T) {
	s := NewStore()
	s.Set("t1", "i1", "a", models.ResolutionKeepExisting)
	s.Set("t1", "i2", "a", models.ResolutionKeepExisting)
	s.Set("t2", "i1", "a", models.ResolutionKeepExisting)

	s.ResetTemplate("t1")

	assert.Nil(t, s.Get("t1", "i1"))
	assert.Nil(t, s.Get("t1", "i2"))
	assert.NotNil(t, s.Get("t2", "i1"))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Set("t1", "i1", "a", models.ResolutionKeepExisting)

	got := s.Get("t1", "i1")
	got["a"] = models.ResolutionUseTemplate

	assert.Equal(t, models.ResolutionKeepExisting, s.Get("t1", "i1")["a"])
}

func TestStore_ChosenExcludesDefaults(t *testing.T) {
	s := NewStore()
	s.Merge("t1", "i1", []string{"a", "b"})
	s.Set("t1", "i1", "b", models.ResolutionKeepExisting)

	assert.Equal(t, Resolutions{"b": models.ResolutionKeepExisting}, s.Chosen("t1", "i1"))
	assert.Len(t, s.Get("t1", "i1"), 2)
	assert.Empty(t, s.Chosen("t1", "other"))

	s.Reset("t1", "i1")
	assert.Empty(t, s.Chosen("t1", "i1"))
}
