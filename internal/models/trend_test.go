package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *TrendReport {
	return &TrendReport{
		LocationContext: "Street market, Jaipur",
		TheVibe:         "Sunlit festive fusion",
		WinningAttributes: WinningAttributes{
			Silhouette:   "Angrakha Kurta",
			FabricPrint:  "Bagru Block Print",
			ColorPalette: "Rani Pink (#FF1493), Haldi Yellow (#ffd700)",
		},
		BestSellerConcept: DesignConcept{
			ProductName:           "Gulabi Angrakha Set",
			DesignRationale:       "Based on current market rates, rayon keeps the BOM low.",
			ImageGenerationPrompt: "A pink angrakha kurta with yellow block print",
		},
		ManufacturingSpecs: ManufacturingSpecs{
			ProcurementIntent:     "Mass market daily wear",
			FabricPrimary:         "Viscose Rayon",
			FabricPrint:           "Pigment block print",
			EstimatedGSM:          110,
			SourcingHubSuggestion: "Sanganer, Rajasthan",
		},
	}
}

func TestParsePalette(t *testing.T) {
	tests := []struct {
		name    string
		palette string
		want    []Swatch
	}{
		{
			name:    "named colours with hex",
			palette: "Rani Pink (#FF1493), Haldi Yellow (#ffd700)",
			want:    []Swatch{{Name: "Rani Pink", Hex: "#FF1493"}, {Name: "Haldi Yellow", Hex: "#FFD700"}},
		},
		{
			name:    "entry without hex keeps its name",
			palette: "Indigo, Off White (#FAF9F6)",
			want:    []Swatch{{Name: "Indigo"}, {Name: "Off White", Hex: "#FAF9F6"}},
		},
		{
			name:    "empty palette",
			palette: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePalette(tt.palette))
		})
	}
}

func TestShoppingQuery(t *testing.T) {
	report := sampleReport()

	assert.Equal(t,
		"Buy Rani Pink (#FF1493) Bagru Block Print Angrakha Kurta Gulabi Angrakha Set online India",
		report.ShoppingQuery())

	report.WinningAttributes.ColorPalette = ""
	assert.Equal(t,
		"Buy  Bagru Block Print Angrakha Kurta Gulabi Angrakha Set online India",
		report.ShoppingQuery())
}

func TestParseImageConfig(t *testing.T) {
	t.Run("defaults for empty input", func(t *testing.T) {
		cfg, err := ParseImageConfig("", "")
		require.NoError(t, err)
		assert.Equal(t, ImageConfig{AspectRatio: "1:1", ImageSize: "1K"}, cfg)
	})

	t.Run("accepts every supported value", func(t *testing.T) {
		for _, ar := range AspectRatios {
			for _, size := range ImageSizes {
				cfg, err := ParseImageConfig(string(ar), string(size))
				require.NoError(t, err)
				assert.Equal(t, ar, cfg.AspectRatio)
				assert.Equal(t, size, cfg.ImageSize)
			}
		}
	})

	t.Run("size is case insensitive", func(t *testing.T) {
		cfg, err := ParseImageConfig("16:9", "2k")
		require.NoError(t, err)
		assert.Equal(t, Size2K, cfg.ImageSize)
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		_, err := ParseImageConfig("5:4", "1K")
		assert.True(t, errors.Is(err, ErrInvalidImageConfig))

		_, err = ParseImageConfig("1:1", "8K")
		assert.True(t, errors.Is(err, ErrInvalidImageConfig))
	})
}

func TestAnalysisState(t *testing.T) {
	visualErr := VisualFailurePrefix + "No image generated by the model."

	a := &Analysis{
		ID:             7,
		Status:         StatusCompleted,
		Report:         sampleReport(),
		VisualStatus:   PartFailed,
		VisualError:    &visualErr,
		ShoppingStatus: PartPending,
	}

	assert.False(t, a.IsAnalyzing())
	assert.False(t, a.IsGeneratingImage())
	assert.True(t, a.IsSearchingShopping())
	assert.True(t, a.HasPendingParts())
	assert.Equal(t, visualErr, a.DisplayError())
	assert.Equal(t, "Gulabi Angrakha Set", a.Title())

	failed := "Service is currently busy (Quota Exceeded). Please try again later."
	b := &Analysis{ID: 8, Status: StatusFailed, ErrorMessage: &failed, VisualStatus: PartSkipped, ShoppingStatus: PartSkipped}
	assert.False(t, b.HasPendingParts())
	assert.Equal(t, failed, b.DisplayError())
	assert.Equal(t, "Analysis #8", b.Title())
}
