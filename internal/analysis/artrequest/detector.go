package artrequest

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultStyle 用户没有指定画风时使用。
const DefaultStyle = "renaissance style reminiscent of da Vinci"

// FailureNote is appended to a reply when an artwork was requested but none could be produced.
const FailureNote = "\n\n*I attempted to create artwork based on your request, but encountered technical difficulties. " +
	"Please check that you have provided valid API keys for OpenAI or Stability AI.*"

var requestKeywords = []string{
	"draw", "paint", "create art", "create image", "show me", "generate art",
	"make art", "make an image", "generate image", "create a picture",
	"show artwork", "visualize", "illustrate",
	"그리다", "그림 그려줘", "그림 보여줘", "예술 작품 만들어줘", "그림 만들어줘",
	"이미지 생성해줘", "그림 생성해줘", "그림을 보여줘", "작품 보여줘", "그림 하나 그려줘",
}

// 顺序即优先级，命中第一个即返回。
var styles = []string{
	"renaissance", "impressionist", "cubist", "surrealist", "abstract",
	"pop art", "minimalist", "baroque", "romantic", "realist",
}

var cleanupPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)`?tool_code\\s*\\{.*?\\}"),
	regexp.MustCompile(`(?is)\{["']?image_generation["']?:.*?\}`),
	regexp.MustCompile(`(?is)<generate_image>.*?</generate_image>`),
	regexp.MustCompile(`(?is)\[IMAGE\].*`),
	regexp.MustCompile(`(?is)Image generation request:.*`),
	regexp.MustCompile(`(?is)Artwork generation:.*`),
	regexp.MustCompile(`(?is)Consider creating an image of:.*`),
	regexp.MustCompile(`(?is)Suggestion for image generation:.*`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Decision 描述一条用户消息是否需要生成图片以及对应的提示词。
type Decision struct {
	Requested bool
	Style     string
	Prompt    string
}

// IsRequest reports whether the message asks for an artwork.
func IsRequest(message string) bool {
	normalized := strings.ToLower(message)
	for _, kw := range requestKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// DetectStyle returns the first known art style mentioned, or fallback.
func DetectStyle(message, fallback string) string {
	normalized := strings.ToLower(message)
	for _, style := range styles {
		if strings.Contains(normalized, style) {
			return style
		}
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return DefaultStyle
}

// BuildPrompt 拼接图像生成提示词。
func BuildPrompt(message, style string) string {
	return fmt.Sprintf("High quality detailed artwork of %s, in %s style.", strings.TrimSpace(message), style)
}

// Analyze combines detection, style and prompt building.
func Analyze(message, fallbackStyle string) Decision {
	if !IsRequest(message) {
		return Decision{}
	}
	style := DetectStyle(message, fallbackStyle)
	return Decision{
		Requested: true,
		Style:     style,
		Prompt:    BuildPrompt(message, style),
	}
}

// CleanReply strips image-generation markers the model may emit and collapses whitespace.
func CleanReply(reply string) string {
	for _, re := range cleanupPatterns {
		reply = re.ReplaceAllString(reply, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(reply, " "))
}
