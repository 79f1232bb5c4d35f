package treatment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/cropcare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupItems(groups []models.TreatmentGroup, kind models.TreatmentKind) []string {
	for _, g := range groups {
		if g.Kind == kind {
			return g.Items
		}
	}
	return nil
}

func TestLookupTreatments_KnownDisease(t *testing.T) {
	c := Default()

	groups, err := c.LookupTreatments(context.Background(), "Early Blight", "Tomato")
	require.NoError(t, err)

	assert.Contains(t, groupItems(groups, models.TreatmentChemical), "Mancozeb 75% WP")
	assert.Contains(t, groupItems(groups, models.TreatmentBiological), "Bacillus subtilis (10 g/L)")
	// defaults are layered in
	assert.Contains(t, groupItems(groups, models.TreatmentCultural), "Remove and destroy affected leaves")
}

func TestLookupTreatments_CropFilter(t *testing.T) {
	c := Default()

	groups, err := c.LookupTreatments(context.Background(), "late blight", "chilli")
	require.NoError(t, err)

	assert.Nil(t, groupItems(groups, models.TreatmentChemical))
	assert.NotEmpty(t, groupItems(groups, models.TreatmentBiological))
}

func TestLookupTreatments_UnknownDiseaseGetsDefaults(t *testing.T) {
	c := Default()

	groups, err := c.LookupTreatments(context.Background(), "mystery spots", "okra")
	require.NoError(t, err)

	require.Len(t, groups, 2)
	assert.Equal(t, models.TreatmentBiological, groups[0].Kind)
	assert.Equal(t, models.TreatmentCultural, groups[1].Kind)
}

func TestLookupTreatments_WholeWordMatching(t *testing.T) {
	c, err := Parse([]byte(`
rules:
  - name: rust
    keywords: [rust]
    chemical: [Propiconazole 25% EC]
`))
	require.NoError(t, err)

	groups, _ := c.LookupTreatments(context.Background(), "Rust (orange pustules)", "")
	assert.Equal(t, []string{"Propiconazole 25% EC"}, groupItems(groups, models.TreatmentChemical))

	groups, _ = c.LookupTreatments(context.Background(), "crustose lichen", "")
	assert.Nil(t, groupItems(groups, models.TreatmentChemical))
}

func TestLookupTreatments_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Default().LookupTreatments(ctx, "rust", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookupProduct_LongestPrefix(t *testing.T) {
	c := Default()

	p, ok := c.LookupProduct(context.Background(), "Neem oil 1500 ppm (5 ml/L)")
	require.True(t, ok)
	assert.Equal(t, "Neem oil 1500 ppm", p.Name)
	assert.Equal(t, "ml", p.Unit)

	p, ok = c.LookupProduct(context.Background(), "metalaxyl + mancozeb 72% wp")
	require.True(t, ok)
	assert.Equal(t, 2.5, p.BasePerPlant)

	_, ok = c.LookupProduct(context.Background(), "Unknown tonic")
	assert.False(t, ok)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - name: empty\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("rules:\n  - name: bad\n    pattern: '('\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("products:\n  - {name: X, base_per_plant: -1}\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, c)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  cultural: [Hand weeding]\n"), 0o600))

	c, err = Load(path)
	require.NoError(t, err)
	groups, err := c.LookupTreatments(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hand weeding"}, groupItems(groups, models.TreatmentCultural))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
