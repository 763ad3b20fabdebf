package settling

// Phase 对话所处阶段，用于生成定性的节奏提示
type Phase int

const (
	PhaseEarly Phase = iota
	PhaseMid
	PhaseWindDown
	PhaseFinal
)

// TurnPhase 根据已完成轮次计算当前轮所处阶段。
// turnCount 为本轮之前已完成的轮次数，收口判定与事件发送共用此函数。
func TurnPhase(turnCount, maxTurns, windDownTurns, minTurnsBeforeWindDown int) Phase {
	current := turnCount + 1
	remaining := maxTurns - turnCount
	switch {
	case remaining <= 1:
		return PhaseFinal
	case current >= minTurnsBeforeWindDown && remaining <= windDownTurns:
		return PhaseWindDown
	case turnCount*2 < maxTurns:
		return PhaseEarly
	default:
		return PhaseMid
	}
}

// awarenessText 各阶段的节奏提示，刻意不含任何数字
var awarenessText = map[Phase]string{
	PhaseEarly: `The conversation has just begun. There is plenty of room to understand what the visitor needs before suggesting anything.`,

	PhaseMid: `The conversation is well underway. Keep the momentum and, when it fits naturally, steer toward a concrete next step.`,

	PhaseWindDown: `The conversation is approaching its natural end. Start wrapping up: resolve open questions briefly, offer a clear next step such as leaving contact details or booking a call, and avoid opening new topics.`,

	PhaseFinal: `This is the final exchange of this conversation. Give a complete, warm closing reply, point the visitor to a way to continue with the team, and say goodbye.`,
}

// AwarenessText 返回阶段对应的节奏提示段落
func AwarenessText(phase Phase) string {
	return awarenessText[phase]
}
