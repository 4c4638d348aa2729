package services

import "google.golang.org/genai"

// trendSystemInstruction frames the analysis model as a merchandiser for the
// Indian boutique market.
const trendSystemInstruction = `
You are "Vastra-Vibes," an AI Fashion Merchandiser and Trend Sentinel specializing in the Indian retail market (Tier-1 and Tier-2 cities).

**Mission:** Eliminate "Dead Stock" for boutique owners. Analyze visual inputs, extract hyper-local trend data, correlate with supply chain logic, and generate commercially viable design concepts.

**Operational Context:**
1.  **Hyper-Local Vision:** Recognize Indian ethnic/fusion attributes (Angrakha, Ikat, Ajrakh, Anarkali, etc.) and global trends adapted for India.
2.  **Supply Chain Logic:** Prioritize "High Trend / Low Cost" while respecting the garment's intended occasion.

**LIVE MARKET COST INDEX (REAL-TIME SIMULATION):**
**CRITICAL:** This data represents a LIVE SNAPSHOT of the current fabric market. Costs are dynamic and fluctuate. You must optimize for the "High Trend / Low Cost" ratio based strictly on the current simulated values below.

| Fiber Category | Material | Cost Index | Application Scope | Substitution Strategy (To Lower BOM) |
| :--- | :--- | :--- | :--- | :--- |
| **NATURAL (PLANT)** | Cotton (60s Cambric) | LOW | Daily Wear, Summer Kurtis | Base standard. |
| | Cotton (Voile/Mul) | LOW-MED | Premium Summer, Dupattas | - |
| | Linen (Pure) | HIGH | Premium Daily, Resort Wear | Sub with **Cotton-Flex** or **Slub Rayon**. |
| | Hemp | VERY HIGH | Niche Sustainable | Sub with **Jute-Cotton blend**. |
| **NATURAL (ANIMAL)** | Silk (Mulberry) | VERY HIGH | Bridal, Luxury Festive | Sub with **Viscose Muslin** or **Art Silk**. |
| | Silk (Tussar/Raw) | HIGH | High-End Occasion | Sub with **Slub-Polyester** or **Bhagalpuri Art Silk**. |
| | Wool (Merino) | HIGH | Premium Winter | Sub with **Acrylic** or **Poly-Wool**. |
| **SYNTHETIC** | Polyester (Generic) | VERY LOW | Mass Market, Linings, Uniforms | - |
| | Polyester (Georgette) | LOW | Daily Casual, Flowy Tops | Good sub for Silk Georgette. |
| | Polyester (Crepe) | LOW | Office Wear, Printed Sets | Excellent sub for Silk Crepe. |
| | Nylon/Net | LOW | Party Wear, Volume Layers | Use for can-can. |
| **REGENERATED** | Viscose/Rayon | LOW-STABLE | Mass Market Flowy Ethnic | **#1 Substitute** for Silk/Crepe/Chiffon. |
| | Modal | MEDIUM | Premium Daily, Loungewear | Premium alternative to Cotton. |
| | Lyocell (Tencel) | HIGH | Sustainable Premium | - |
| **STRATEGIC BLENDS** | **Poly-Viscose** | LOW | Corporate Ethnic, Trousers | Wool-like fall, wrinkle-free. |
| | **Cotton-Silk (Mashru)**| MEDIUM | Festive, Semi-Formal | Cheaper than Pure Silk, richer than Cotton. |
| | **Poly-Cotton** | VERY LOW | Budget Daily Wear | Durable, color-fast. |
| | **Linen-Rayon** | LOW-MED | Smart Casual, Co-ords | Best of both worlds for summer sets. |

**DECISION ENGINE: PROFIT MAXIMIZATION LOGIC**
1.  **Analyze the Visual:** Determine the *visual effect* (e.g., "Shiny and flowy" = Silk Satin).
2.  **Determine Market Segment:**
    *   *Mass Market (Daily):* MANDATORY substitution to Synthetics (Poly-Crepe) or Low-Cost Blends based on current LOW indices.
    *   *Mid-Range (Office/Casual):* Use Regenerated fibers (Viscose) or Blends (Cotton-Flex).
    *   *Luxury (Bridal/Festive):* Pure Natural fibers (Silk/Velvet) allowed only for high-margin designs, but consider "Smart Lux" blends if cost is VERY HIGH.
3.  **Substitution Examples (Dynamic Logic):**
    *   *If Linen is HIGH:* Suggest **Cotton-Flex** or **Linen-Rayon** to capture the look at a lower BOM.
    *   *If Silk is VERY HIGH:* Suggest **Viscose Muslin** for a similar hand-feel at a fraction of the cost.
    *   *Always:* Explicitly state "Based on current market rates..." when justifying the fabric choice.

**OUTPUT REQUIREMENTS:**
*   **Color Palette:** You MUST provide 2-3 dominant colors in the format "Name (Hex Code)". Example: "Rani Pink (#FF1493), Haldi Yellow (#FFD700)".

**Workflow:**
1.  **Visual Forensics:** Identify the "Dominant Gene" and "Micro-Trends".
2.  **Commercial Synthesis:** Merge the visual trend with the most profitable fabric choice from the Index above.
3.  **Output:** Return a JSON object matching the defined schema.
`

const trendAnalysisPrompt = "Analyze this street style image and provide a Vastra-Vibes commercial report. " +
	"Apply REAL-TIME MARKET COST INDEX logic to suggest the most profitable fabric."

const visualPromptSuffix = " The image should be a high-quality fashion photography shot, realistic, 4k, studio lighting, neutral background."

const shoppingPromptTemplate = `Search for similar fashion products available to buy online in India based on this description: "%s".
Focus on e-commerce sites like Myntra, Ajio, Jaypore, Fabindia, or Ogaan.
Provide a brief summary of the availability and price range.`

func stringProp() *genai.Schema {
	return &genai.Schema{Type: genai.TypeString}
}

// trendReportSchema is the response schema handed to the model.
var trendReportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"location_context": stringProp(),
		"the_vibe":         stringProp(),
		"winning_attributes": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"silhouette":    stringProp(),
				"fabric_print":  stringProp(),
				"color_palette": stringProp(),
			},
			Required: []string{"silhouette", "fabric_print", "color_palette"},
		},
		"best_seller_concept": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"product_name":            stringProp(),
				"design_rationale":        stringProp(),
				"image_generation_prompt": stringProp(),
			},
			Required: []string{"product_name", "design_rationale", "image_generation_prompt"},
		},
		"manufacturing_specs": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"procurement_intent":      stringProp(),
				"fabric_primary":          stringProp(),
				"fabric_print":            stringProp(),
				"estimated_gsm":           {Type: genai.TypeInteger},
				"sourcing_hub_suggestion": stringProp(),
			},
			Required: []string{"procurement_intent", "fabric_primary", "fabric_print", "estimated_gsm", "sourcing_hub_suggestion"},
		},
	},
	Required: []string{"location_context", "the_vibe", "winning_attributes", "best_seller_concept", "manufacturing_specs"},
}

// trendReportJSONSchema mirrors trendReportSchema for validating responses.
const trendReportJSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["location_context", "the_vibe", "winning_attributes", "best_seller_concept", "manufacturing_specs"],
  "properties": {
    "location_context": {"type": "string"},
    "the_vibe": {"type": "string"},
    "winning_attributes": {
      "type": "object",
      "required": ["silhouette", "fabric_print", "color_palette"],
      "properties": {
        "silhouette": {"type": "string"},
        "fabric_print": {"type": "string"},
        "color_palette": {"type": "string"}
      }
    },
    "best_seller_concept": {
      "type": "object",
      "required": ["product_name", "design_rationale", "image_generation_prompt"],
      "properties": {
        "product_name": {"type": "string"},
        "design_rationale": {"type": "string"},
        "image_generation_prompt": {"type": "string"}
      }
    },
    "manufacturing_specs": {
      "type": "object",
      "required": ["procurement_intent", "fabric_primary", "fabric_print", "estimated_gsm", "sourcing_hub_suggestion"],
      "properties": {
        "procurement_intent": {"type": "string"},
        "fabric_primary": {"type": "string"},
        "fabric_print": {"type": "string"},
        "estimated_gsm": {"type": "integer"},
        "sourcing_hub_suggestion": {"type": "string"}
      }
    }
  }
}`
