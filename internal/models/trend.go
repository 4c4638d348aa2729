package models

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// TrendReport is the structured report returned by the analysis model.
type TrendReport struct {
	LocationContext    string             `json:"location_context"`
	TheVibe            string             `json:"the_vibe"`
	WinningAttributes  WinningAttributes  `json:"winning_attributes"`
	BestSellerConcept  DesignConcept      `json:"best_seller_concept"`
	ManufacturingSpecs ManufacturingSpecs `json:"manufacturing_specs"`
}

type WinningAttributes struct {
	Silhouette   string `json:"silhouette"`
	FabricPrint  string `json:"fabric_print"`
	ColorPalette string `json:"color_palette"`
}

type DesignConcept struct {
	ProductName           string `json:"product_name"`
	DesignRationale       string `json:"design_rationale"`
	ImageGenerationPrompt string `json:"image_generation_prompt"`
}

type ManufacturingSpecs struct {
	ProcurementIntent     string `json:"procurement_intent"`
	FabricPrimary         string `json:"fabric_primary"`
	FabricPrint           string `json:"fabric_print"`
	EstimatedGSM          int    `json:"estimated_gsm"`
	SourcingHubSuggestion string `json:"sourcing_hub_suggestion"`
}

// Swatch is one named colour of a report palette.
type Swatch struct {
	Name string `json:"name"`
	Hex  string `json:"hex,omitempty"`
}

var swatchPattern = regexp.MustCompile(`([^,(]+?)\s*\((#[0-9A-Fa-f]{3,8})\)`)

// ParsePalette extracts "Name (#HEX)" entries from a colour palette string.
// Entries without a hex code are returned with an empty Hex.
func ParsePalette(palette string) []Swatch {
	var swatches []Swatch
	for _, entry := range strings.Split(palette, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if m := swatchPattern.FindStringSubmatch(entry); m != nil {
			swatches = append(swatches, Swatch{Name: strings.TrimSpace(m[1]), Hex: strings.ToUpper(m[2])})
			continue
		}
		swatches = append(swatches, Swatch{Name: entry})
	}
	return swatches
}

// Swatches returns the parsed colour palette of the report.
func (r *TrendReport) Swatches() []Swatch {
	return ParsePalette(r.WinningAttributes.ColorPalette)
}

// ShoppingQuery builds the product search query for similar listings.
func (r *TrendReport) ShoppingQuery() string {
	firstColor := strings.TrimSpace(strings.Split(r.WinningAttributes.ColorPalette, ",")[0])
	return fmt.Sprintf("Buy %s %s %s %s online India",
		firstColor,
		r.WinningAttributes.FabricPrint,
		r.WinningAttributes.Silhouette,
		r.BestSellerConcept.ProductName,
	)
}

// ShoppingItem is a single grounded product link.
type ShoppingItem struct {
	Title  string `json:"title"`
	URI    string `json:"uri"`
	Source string `json:"source"`
}

// ShoppingResult is the summary text plus links from a product search.
type ShoppingResult struct {
	Summary string         `json:"summary"`
	Items   []ShoppingItem `json:"items"`
}

// Shopping fallbacks used when the search yields nothing usable.
const (
	ShoppingNoDetails   = "No shopping details found."
	ShoppingUnavailable = "Could not fetch live shopping results."
)

// UnavailableShopping is the degraded result used when the search fails.
func UnavailableShopping() *ShoppingResult {
	return &ShoppingResult{Summary: ShoppingUnavailable, Items: []ShoppingItem{}}
}

type AspectRatio string

const (
	AspectSquare       AspectRatio = "1:1"
	AspectPortrait2x3  AspectRatio = "2:3"
	AspectLandscape3x2 AspectRatio = "3:2"
	AspectPortrait3x4  AspectRatio = "3:4"
	AspectLandscape4x3 AspectRatio = "4:3"
	AspectStory        AspectRatio = "9:16"
	AspectWide         AspectRatio = "16:9"
	AspectUltraWide    AspectRatio = "21:9"
)

const DefaultAspectRatio = AspectSquare

// AspectRatios lists the supported ratios in display order.
var AspectRatios = []AspectRatio{
	AspectSquare, AspectPortrait2x3, AspectLandscape3x2, AspectPortrait3x4,
	AspectLandscape4x3, AspectStory, AspectWide, AspectUltraWide,
}

type ImageSize string

const (
	Size1K ImageSize = "1K"
	Size2K ImageSize = "2K"
	Size4K ImageSize = "4K"
)

const DefaultImageSize = Size1K

var ImageSizes = []ImageSize{Size1K, Size2K, Size4K}

// ImageConfig holds the output options for the generated visual.
type ImageConfig struct {
	AspectRatio AspectRatio `json:"aspect_ratio"`
	ImageSize   ImageSize   `json:"image_size"`
}

func DefaultImageConfig() ImageConfig {
	return ImageConfig{AspectRatio: DefaultAspectRatio, ImageSize: DefaultImageSize}
}

// ParseImageConfig validates form values, falling back to defaults for
// empty inputs.
func ParseImageConfig(aspectRatio, imageSize string) (ImageConfig, error) {
	cfg := DefaultImageConfig()

	if aspectRatio != "" {
		ar := AspectRatio(aspectRatio)
		if !slices.Contains(AspectRatios, ar) {
			return cfg, fmt.Errorf("%w: aspect ratio %q", ErrInvalidImageConfig, aspectRatio)
		}
		cfg.AspectRatio = ar
	}

	if imageSize != "" {
		size := ImageSize(strings.ToUpper(imageSize))
		if !slices.Contains(ImageSizes, size) {
			return cfg, fmt.Errorf("%w: image size %q", ErrInvalidImageConfig, imageSize)
		}
		cfg.ImageSize = size
	}

	return cfg, nil
}
