package ai

import "fmt"

// maxSummaryInputRunes caps how much article text goes into the summary
// prompt, keeping prompt tokens bounded.
const maxSummaryInputRunes = 3000

// SummaryPrompt builds the article summary prompt shared by all providers.
func SummaryPrompt(content string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = 200
	}
	if runes := []rune(content); len(runes) > maxSummaryInputRunes {
		content = string(runes[:maxSummaryInputRunes])
	}
	return fmt.Sprintf(`请为以下文章生成摘要，要求：
1. 不超过%d字
2. 包含文章核心观点
3. 语言简洁通顺

文章内容：
%s

摘要：`, maxLength, content)
}
