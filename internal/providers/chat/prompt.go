package chat

import (
	"fmt"
	"strings"

	"talkstudio/internal/domain"
)

var toneDescriptions = map[domain.Tone]string{
	domain.ToneCasual:   "친근하고 편안한 말투. 반말 사용 가능. 이모티콘/축약어 자연스럽게 사용.",
	domain.ToneFormal:   "정중하고 예의 바른 말투. 존댓말 사용. 격식 있는 표현.",
	domain.ToneHumorous: "유머러스하고 재치 있는 말투. 농담과 재미있는 표현 포함. 가벼운 분위기.",
}

var platformHints = map[domain.Platform]string{
	domain.PlatformKakaoTalk: "카카오톡 스타일. 짧은 메시지, 이모티콘 자주 사용, 답장 빠름.",
	domain.PlatformDiscord:   "디스코드 스타일. 캐주얼한 게이머 말투, 이모지 사용, 채널/서버 언급 가능.",
	domain.PlatformTelegram:  "텔레그램 스타일. 간결한 메시지, 기술적인 대화 가능.",
	domain.PlatformInstagram: "인스타그램 DM 스타일. 친밀한 대화, 감성적인 표현.",
}

// BuildSystemPrompt encodes tone, platform and the JSON output contract.
func BuildSystemPrompt(tone domain.Tone, platform domain.Platform) string {
	toneDesc, ok := toneDescriptions[tone]
	if !ok {
		toneDesc = toneDescriptions[domain.ToneCasual]
	}
	hint, ok := platformHints[platform]
	if !ok {
		hint = platformHints[domain.PlatformKakaoTalk]
	}
	sb := &strings.Builder{}
	sb.WriteString("You are a conversation generator that creates realistic chat conversations in Korean.\n\n")
	sb.WriteString("## Output Format\nReturn ONLY valid JSON with this exact structure:\n")
	sb.WriteString(`{"participants":["이름1","이름2"],"messages":[{"sender":"이름1","text":"메시지 내용","timestamp":"14:30"},{"sender":"이름2","text":"답장 내용","timestamp":"14:31"}]}`)
	sb.WriteString("\n\n## Rules\n")
	sb.WriteString("1. Generate natural Korean conversation that flows realistically\n")
	sb.WriteString("2. Each message should be 1-3 sentences (under 200 characters)\n")
	sb.WriteString("3. Timestamps should progress naturally (1-5 minutes between messages)\n")
	sb.WriteString("4. Use appropriate reactions, questions, and responses\n")
	sb.WriteString("5. Every sender must be one of the participants\n\n")
	fmt.Fprintf(sb, "## Tone Style\n%s\n\n## Platform Style\n%s\n\n", toneDesc, hint)
	sb.WriteString("## Content Guidelines\n- Keep content appropriate and safe\n- No violence, hate speech, or illegal content\n- Focus on everyday realistic conversations")
	return sb.String()
}

// BuildUserPrompt encodes the scenario and its count constraints.
func BuildUserPrompt(req Request) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Generate a %d-message Korean conversation about: %q\n\n", req.MessageCount, req.Scenario)
	fmt.Fprintf(sb, "Number of participants: %d\n", req.ParticipantCount)
	if len(req.ParticipantNames) > 0 {
		fmt.Fprintf(sb, "Participant names: %s\n", strings.Join(req.ParticipantNames, ", "))
	} else {
		fmt.Fprintf(sb, "Generate appropriate Korean names for %d participants.\n", req.ParticipantCount)
	}
	fmt.Fprintf(sb, "\nRequirements:\n- Exactly %d messages total\n- Natural conversation flow\n- Each participant should speak multiple times", req.MessageCount)
	return sb.String()
}
