package agents

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
)

// Classifier 把一条查询映射到唯一的叶子路由。
type Classifier interface {
	Classify(query string) Route
}

// Rule 是一条可独立测试的路由条件。
type Rule interface {
	Route() Route
	Match(query string) bool
}

// RuleClassifier 按顺序应用规则，第一个命中的规则决定路由，全部未命中时落到 fallback。
type RuleClassifier struct {
	rules    []Rule
	fallback Route
}

// NewClassifier 返回默认优先级的分类器：西班牙语 > 交易相关 > 英语。
func NewClassifier() *RuleClassifier {
	return &RuleClassifier{
		rules:    []Rule{SpanishRule{}, TransactionRule{}},
		fallback: RouteEnglish,
	}
}

// NewRuleClassifier 使用自定义规则与兜底路由。
func NewRuleClassifier(fallback Route, rules ...Rule) *RuleClassifier {
	return &RuleClassifier{rules: rules, fallback: fallback}
}

// Classify 实现 Classifier。
func (c *RuleClassifier) Classify(query string) Route {
	for _, rule := range c.rules {
		if rule.Match(query) {
			return rule.Route()
		}
	}
	return c.fallback
}

// spanishMarkers 是英文里几乎不会出现的西班牙语词。
var spanishMarkers = map[string]struct{}{
	"hola": {}, "gracias": {}, "buenos": {}, "buenas": {}, "adiós": {}, "adios": {},
	"cómo": {}, "qué": {}, "dónde": {}, "donde": {}, "cuál": {}, "cuándo": {}, "cuando": {},
	"cuánto": {}, "estás": {}, "estas": {}, "está": {}, "favor": {}, "puedes": {}, "puede": {},
	"quiero": {}, "necesito": {}, "tengo": {}, "saber": {}, "hoy": {}, "días": {}, "tardes": {},
	"noches": {}, "billetera": {}, "cartera": {}, "transacciones": {}, "dime": {}, "muy": {},
	"también": {}, "pero": {}, "precio": {}, "ayuda": {}, "ayúdame": {}, "últimas": {},
}

// spanishFunctionWords 也常见于英文里的专有名词（de la Soul、El Paso），只能作为辅助证据。
var spanishFunctionWords = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "una": {}, "es": {}, "y": {}, "de": {},
	"del": {}, "con": {}, "mi": {}, "tu": {}, "que": {}, "por": {}, "para": {}, "como": {},
	"cual": {}, "bien": {},
}

var spanishGreetings = map[string]struct{}{
	"hola": {}, "gracias": {}, "buenos": {}, "buenas": {}, "adiós": {}, "adios": {},
}

// SpanishRule 识别西班牙语输入：倒置标点、ñ、问候语，或至少一个西班牙语特有词且常见词占比足够。
type SpanishRule struct{}

// Route 实现 Rule。
func (SpanishRule) Route() Route { return RouteSpanish }

// Match 实现 Rule。
func (SpanishRule) Match(query string) bool {
	if strings.ContainsAny(query, "¿¡ñÑ") {
		return true
	}
	words := tokenize(query)
	if len(words) == 0 {
		return false
	}
	strong := make(map[string]struct{})
	weak := make(map[string]struct{})
	for _, w := range words {
		if _, ok := spanishGreetings[w]; ok {
			return true
		}
		if _, ok := spanishMarkers[w]; ok {
			strong[w] = struct{}{}
		} else if _, ok := spanishFunctionWords[w]; ok {
			weak[w] = struct{}{}
		}
	}
	if len(strong) >= 2 {
		return true
	}
	hits := len(strong) + len(weak)
	return len(strong) == 1 && hits >= 2 && hits*3 >= len(words)
}

var (
	addressPattern      = regexp.MustCompile(`0[xX][0-9a-fA-F]{40}`)
	transactionKeywords = map[string]struct{}{
		"transaction": {}, "transactions": {}, "transfer": {}, "transfers": {},
		"wallet": {}, "wallets": {}, "balance": {}, "usdc": {}, "tx": {}, "txs": {},
		"txn": {}, "hash": {}, "payment": {}, "payments": {}, "token": {}, "tokens": {},
		"erc20": {}, "onchain": {}, "blockchain": {}, "bigquery": {}, "ethereum": {},
	}
)

// TransactionRule 识别包含钱包地址或交易相关词汇的输入。
type TransactionRule struct{}

// Route 实现 Rule。
func (TransactionRule) Route() Route { return RouteTool }

// Match 实现 Rule。
func (TransactionRule) Match(query string) bool {
	if _, ok := ExtractWallet(query); ok {
		return true
	}
	for _, w := range tokenize(strings.ReplaceAll(query, "-", "")) {
		if _, ok := transactionKeywords[w]; ok {
			return true
		}
	}
	return false
}

// ExtractWallet 返回查询中第一个合法的十六进制钱包地址（小写）。
func ExtractWallet(query string) (string, bool) {
	for _, candidate := range addressPattern.FindAllString(query, -1) {
		if common.IsHexAddress(candidate) {
			return strings.ToLower(candidate), true
		}
	}
	return "", false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
