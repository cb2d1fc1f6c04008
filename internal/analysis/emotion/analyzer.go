package emotion

import (
	"math"
	"sort"
	"strings"

	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// Label 表示日记对话中识别出的情绪标签。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Grateful Label = "grateful"
	Sad      Label = "sad"
	Anxious  Label = "anxious"
	Angry    Label = "angry"
	Tired    Label = "tired"
)

// Risk 表示文本中的安全风险等级。
type Risk int

const (
	RiskNone Risk = iota
	RiskLow
	RiskHigh
	RiskCritical
)

// Decision 给出单条文本的情绪识别结果与压力估计（0~10）。
type Decision struct {
	Emotion Label
	Stress  float64
	Score   int
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"开心", "高兴", "快乐", "太好了", "太棒了", "哈哈", "满意", "好耶",
		"happy", "great", "awesome", "amazing", "excited", "glad", "fun", "love",
	},
	Grateful: {
		"感谢", "感激", "谢谢", "幸运", "珍惜",
		"grateful", "thankful", "thanks", "appreciate", "lucky", "blessed",
	},
	Sad: {
		"难过", "伤心", "失落", "沮丧", "悲伤", "哭", "孤单", "寂寞", "失望", "低落", "委屈",
		"sad", "unhappy", "cry", "cried", "lonely", "down", "upset", "hurt", "miss",
	},
	Anxious: {
		"焦虑", "担心", "紧张", "害怕", "不安", "压力", "慌",
		"anxious", "anxiety", "worried", "worry", "nervous", "scared", "afraid", "panic", "stressed", "overwhelmed",
	},
	Angry: {
		"生气", "愤怒", "火大", "气死", "烦死", "受够了", "抓狂",
		"angry", "furious", "mad", "annoyed", "pissed", "frustrated", "hate",
	},
	Tired: {
		"累", "疲惫", "困", "失眠", "没睡好", "精疲力尽",
		"tired", "exhausted", "sleepy", "drained", "burned out", "burnt out", "insomnia",
	},
}

// stressWeight 是每种情绪对压力的贡献。
var stressWeight = map[Label]float64{
	Anxious:  2.5,
	Angry:    2.0,
	Sad:      1.5,
	Tired:    1.5,
	Happy:    -1.0,
	Grateful: -1.0,
}

var stressKeywords = []string{
	"deadline", "pressure", "too much", "can't cope", "no time", "exam",
	"截止", "加班", "忙不过来", "考试", "崩溃",
}

var topicBuckets = map[string][]string{
	"work":          {"work", "job", "boss", "meeting", "deadline", "office", "career", "工作", "老板", "开会", "加班", "同事"},
	"study":         {"exam", "study", "class", "homework", "school", "考试", "学习", "作业", "上课", "论文"},
	"family":        {"mom", "dad", "mother", "father", "parents", "sister", "brother", "family", "妈妈", "爸爸", "父母", "家人"},
	"relationships": {"friend", "partner", "boyfriend", "girlfriend", "wife", "husband", "breakup", "朋友", "男朋友", "女朋友", "分手", "恋爱"},
	"health":        {"sick", "doctor", "pain", "health", "exercise", "gym", "run", "生病", "医生", "健康", "运动", "跑步"},
	"sleep":         {"sleep", "slept", "insomnia", "nap", "bed", "睡", "失眠"},
	"money":         {"money", "rent", "salary", "debt", "bills", "钱", "房租", "工资", "欠"},
}

var criticalPhrases = []string{
	"kill myself", "end my life", "suicide", "suicidal", "want to die", "better off dead",
	"自杀", "不想活", "结束生命", "想死",
}

var highRiskPhrases = []string{
	"hurt myself", "self-harm", "self harm", "cutting myself", "no reason to live",
	"伤害自己", "自残", "活着没意义",
}

var lowRiskPhrases = []string{
	"hopeless", "worthless", "can't go on", "give up on everything", "nobody cares",
	"绝望", "没有希望", "撑不下去",
}

// Analyze 根据单条文本推断情绪与压力。
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := scoreText(normalized)

	bestLabel := Neutral
	bestScore := 0
	for _, label := range orderedLabels(scores) {
		if scores[label] > bestScore {
			bestScore = scores[label]
			bestLabel = label
		}
	}

	stress := 0.0
	for label, s := range scores {
		stress += stressWeight[label] * float64(s) / 3
	}
	for _, word := range stressKeywords {
		if strings.Contains(normalized, word) {
			stress += 1.5
		}
	}
	// 感叹号放大负面情绪带来的压力。
	if stress > 0 {
		stress += 0.5 * float64(strings.Count(text, "!")+strings.Count(text, "！"))
	}

	return Decision{Emotion: bestLabel, Stress: clampStress(stress), Score: bestScore}
}

// DetectRisk 返回文本中最高的安全风险等级。
func DetectRisk(text string) Risk {
	normalized := strings.ToLower(text)
	switch {
	case containsAny(normalized, criticalPhrases):
		return RiskCritical
	case containsAny(normalized, highRiskPhrases):
		return RiskHigh
	case containsAny(normalized, lowRiskPhrases):
		return RiskLow
	default:
		return RiskNone
	}
}

// Summarize 汇总一次会话中用户发言的压力、主要情绪与话题。
func Summarize(turns []chat.Turn) memory.Analytics {
	emotionCounts := make(map[string]int)
	topicCounts := make(map[string]int)

	var total, peak float64
	var count int
	for _, turn := range turns {
		if turn.Role != chat.RoleUser || strings.TrimSpace(turn.Text) == "" {
			continue
		}
		decision := Analyze(turn.Text)
		total += decision.Stress
		peak = math.Max(peak, decision.Stress)
		count++
		if decision.Emotion != Neutral {
			emotionCounts[string(decision.Emotion)]++
		}

		normalized := strings.ToLower(turn.Text)
		for topic, words := range topicBuckets {
			if containsAny(normalized, words) {
				topicCounts[topic]++
			}
		}
	}

	analytics := memory.Analytics{
		TopEmotions: topKeys(emotionCounts, 3),
		TopTopics:   topKeys(topicCounts, 3),
	}
	if count > 0 {
		analytics.AvgStress = math.Round(total/float64(count)*10) / 10
		analytics.MaxStress = peak
	}
	return analytics
}

// MaxRisk 返回一组对话中用户发言的最高风险等级。
func MaxRisk(turns []chat.Turn) Risk {
	risk := RiskNone
	for _, turn := range turns {
		if turn.Role != chat.RoleUser {
			continue
		}
		if r := DetectRisk(turn.Text); r > risk {
			risk = r
		}
	}
	return risk
}

func scoreText(normalized string) map[Label]int {
	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}
	return scores
}

// orderedLabels 保证得分相同时结果稳定。
func orderedLabels(scores map[Label]int) []Label {
	labels := make([]Label, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

func topKeys(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func clampStress(val float64) float64 {
	if val < 0 {
		return 0
	}
	if val > 10 {
		return 10
	}
	return math.Round(val*10) / 10
}
