package stages

import (
	"fmt"
	"strings"

	"github.com/clipforge/clipforge/internal/llm"
)

// Function names the model is asked to call.
const (
	detectFunction  = "report_highlight_detection"
	trimFunction    = "report_trim_segments"
	captionFunction = "report_highlight_caption"
)

const detectPrompt = `You are an agent that is receiving clips of a sports game to decide whether they contain the entirety of a highlight moment.
You will receive overlapping clips, so it is not pivotal to choose this clip as the definitive highlight.

Your job is to analyze this video clip and determine if it contains a highlight moment worthy of posting on short form media.

A highlight is:
- An exciting play or action (goals, dunks, touchdowns, impressive saves, etc.)
- A key moment in the game (close calls, dramatic moments)
- Exceptional athletic performance
- Crowd reactions to big moments

NOT a highlight:
- Replays of commercials or commentary. Take special care to avoid commercials as they are not at all relevant to the game.
- Half of a game highlight. If there is only half a highlight, then it is not worth selecting.

Use the report_highlight_detection function to provide your assessment.`

const captionPrompt = `Analyze this sports highlight video and generate a compelling title and description. This title and description will be used for a short form video.

Ensure you look closely at the videos to identify the key players and teams to include in your deliverables.

Here are your key deliverables:
- Create a short, exciting title (5-10 words) that captures the essence of the play. Use action words and be specific about what happened. Include the specifics about the players or teams involved in the play.
- Write a brief description (1-2 sentences) that provides context and details about the highlight. Include information about why the moment is so significant to the game.
- Also identify the key action or event that occurred for classification later.

Use the report_highlight_caption function to provide the title, description, and key action.`

// trimPrompt builds the trim instruction for a window of segmentCount chunks
// of chunkSeconds each, including the per-segment time table. context
// carries the detect stage's verdict when available.
func trimPrompt(segmentCount, chunkSeconds int, context string) string {
	var table strings.Builder
	for i := 1; i <= segmentCount; i++ {
		fmt.Fprintf(&table, "- Chunk %d: %d-%ds\n", i, (i-1)*chunkSeconds, i*chunkSeconds)
	}
	if context != "" {
		context += "\n\n"
	}

	return fmt.Sprintf(`Analyze this video clip which contains a highlight moment. Your task is to identify the exact portion of the video that should be kept.

The video is divided into %d chunks of %d seconds each (total %d seconds):
%s
%sIdentify which consecutive segments contain the actual highlight action. Include a brief buildup and follow-through, but exclude unnecessary footage before or after. It is better to be conservative and include more of the footage.

Use the report_trim_segments function to specify which segments to keep.`,
		segmentCount, chunkSeconds, segmentCount*chunkSeconds, table.String(), context)
}

// detectionContext renders a detect verdict for inclusion in the trim prompt.
func detectionContext(d Detection) string {
	if d.Reason == "" {
		return ""
	}
	return fmt.Sprintf("A previous analysis flagged this clip as a highlight (confidence: %s): %s", d.Confidence, d.Reason)
}

var detectTool = llm.Tool{FunctionDeclarations: []llm.FunctionDeclaration{{
	Name:        detectFunction,
	Description: "Report whether a video clip contains a highlight moment",
	Parameters: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"is_highlight": {Type: "boolean"},
			"confidence":   {Type: "string", Enum: []string{"high", "medium", "low"}},
			"reason":       {Type: "string"},
		},
		Required: []string{"is_highlight", "confidence"},
	},
}}}

// trimTool declares the segment-range function for a window of segmentCount
// chunks.
func trimTool(segmentCount int) llm.Tool {
	return llm.Tool{FunctionDeclarations: []llm.FunctionDeclaration{{
		Name:        trimFunction,
		Description: fmt.Sprintf("Report which video segments (1-%d) should be kept for the highlight", segmentCount),
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"start_segment": {Type: "integer"},
				"end_segment":   {Type: "integer"},
				"reasoning":     {Type: "string"},
			},
			Required: []string{"start_segment", "end_segment"},
		},
	}}}
}

var captionTool = llm.Tool{FunctionDeclarations: []llm.FunctionDeclaration{{
	Name:        captionFunction,
	Description: "Report the generated title, description, and key action for a sports highlight",
	Parameters: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"title":       {Type: "string"},
			"description": {Type: "string"},
			"key_action":  {Type: "string"},
		},
		Required: []string{"title", "description"},
	},
}}}
