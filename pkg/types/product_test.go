package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRecord_HasPrice(t *testing.T) {
	r := &ProductRecord{}
	assert.False(t, r.HasPrice())

	r.Price = decimal.NewNullDecimal(decimal.Zero)
	assert.False(t, r.HasPrice(), "zero price counts as unknown")

	r.Price = decimal.NewNullDecimal(decimal.RequireFromString("3.49"))
	assert.True(t, r.HasPrice())
}

func TestProductRecord_HasGenericStore(t *testing.T) {
	assert.True(t, (&ProductRecord{}).HasGenericStore())
	assert.True(t, (&ProductRecord{Store: GenericStore}).HasGenericStore())
	assert.False(t, (&ProductRecord{Store: "Acme Market"}).HasGenericStore())
}

func TestProductRecord_Clone(t *testing.T) {
	now := time.Now().UTC()
	r := &ProductRecord{ProductID: "1", EnrichedAt: &now}

	c := r.Clone()
	c.ProductID = "2"
	later := now.Add(time.Hour)
	*c.EnrichedAt = later

	assert.Equal(t, "1", r.ProductID)
	assert.Equal(t, now, *r.EnrichedAt)
}

func TestProductRecord_JSONShape(t *testing.T) {
	r := ProductRecord{
		ProductID:        "1",
		Name:             "Bananas",
		Price:            decimal.NewNullDecimal(decimal.RequireFromString("3.49")),
		InStock:          true,
		Store:            GenericStore,
		ExtractionMethod: ExtractionGraphState,
		SourceURL:        "https://shop.example.com/store/acme/aisle",
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "1", out["productId"])
	assert.Equal(t, "3.49", out["price"])
	assert.Nil(t, out["originalPrice"], "unknown price serializes as null")
	assert.Equal(t, true, out["inStock"])
	assert.Equal(t, "graph_state", out["extractionMethod"])
	assert.NotContains(t, out, "detailExtractionMethod")
}
