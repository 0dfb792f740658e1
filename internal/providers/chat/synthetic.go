package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"talkstudio/internal/domain"
)

const ProviderSynthetic = "synthetic"

var syntheticNames = []string{"민수", "지영", "현우", "서연", "도윤"}

var syntheticLines = map[domain.Tone][]string{
	domain.ToneCasual:   {"야 이거 봤어?", "ㅋㅋ 진짜 웃기다", "그럼 그렇게 하자!", "오케이 나도 좋아", "언제 볼까?"},
	domain.ToneFormal:   {"안녕하세요, 확인 부탁드립니다.", "네, 바로 확인하겠습니다.", "감사합니다.", "추가로 궁금한 점이 있습니다.", "말씀하신 내용 정리해 두겠습니다."},
	domain.ToneHumorous: {"이건 거의 예능 한 편인데?", "내 인생 최대 반전ㅋㅋ", "웃다가 배꼽 빠질 뻔", "이러다 전설 되는 거 아님?", "진지하게 들으면 지는 거야"},
}

// Synthetic answers offline with a deterministic conversation of the
// requested shape. It exists for local development without provider keys.
type Synthetic struct{}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

func (s *Synthetic) Name() string { return ProviderSynthetic }

func (s *Synthetic) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	req := prompt.Request
	names := req.ParticipantNames
	if len(names) == 0 {
		count := req.ParticipantCount
		if count < domain.MinParticipants {
			count = domain.MinParticipants
		}
		if count > len(syntheticNames) {
			count = len(syntheticNames)
		}
		names = syntheticNames[:count]
	}
	lines, ok := syntheticLines[req.Tone]
	if !ok {
		lines = syntheticLines[domain.ToneCasual]
	}
	payload := conversationPayload{Participants: append([]string(nil), names...)}
	for i := 0; i < req.MessageCount; i++ {
		payload.Messages = append(payload.Messages, messagePayload{
			Sender:    names[i%len(names)],
			Text:      lines[i%len(lines)],
			Timestamp: fmt.Sprintf("%02d:%02d", 12+i/60, i%60),
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, err
	}
	return Completion{Content: string(raw), Model: ProviderSynthetic}, nil
}

var _ Provider = (*Synthetic)(nil)
