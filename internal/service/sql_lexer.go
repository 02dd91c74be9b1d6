package service

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenKind SQL词法单元类型
type TokenKind int

const (
	TokenWord        TokenKind = iota // 未加引号的词（关键字或标识符）
	TokenQuotedIdent                  // 引号标识符（"x"、`x`）
	TokenString                       // 字符串字面量
	TokenNumber                       // 数字字面量
	TokenSymbol                       // 运算符或标点
	TokenSemicolon                    // 语句分隔符
)

// Token SQL词法单元
// Upper为大小写折叠后的值，关键字判定一律使用该字段，杜绝大小写绕过
type Token struct {
	Kind  TokenKind
	Value string // 原文
	Upper string // 大写形式（仅TokenWord有意义）
	Pos   int    // 在原文中的字节偏移
}

// LexError 词法分析失败（未闭合的字符串、注释等）
type LexError struct {
	Pos     int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("sql lex error at offset %d: %s", e.Pos, e.Message)
}

// TokenizeSQL 将SQL解析为词法单元序列
// 注释被剥离，字符串与引号标识符保留为单个单元，
// 因此后续任何关键字检查都不会被注释或字面量中的文本干扰
func TokenizeSQL(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	n := len(input)

	for i < n {
		c := input[i]

		switch {
		// 空白
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		// 行注释 -- 或 #
		case c == '-' && i+1 < n && input[i+1] == '-',
			c == '#':
			for i < n && input[i] != '\n' {
				i++
			}

		// 块注释，支持嵌套
		case c == '/' && i+1 < n && input[i+1] == '*':
			start := i
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if input[i] == '/' && i+1 < n && input[i+1] == '*' {
					depth++
					i += 2
				} else if input[i] == '*' && i+1 < n && input[i+1] == '/' {
					depth--
					i += 2
				} else {
					i++
				}
			}
			if depth > 0 {
				return nil, &LexError{Pos: start, Message: "unterminated block comment"}
			}

		// 字符串字面量，'' 和 \' 均视为转义
		case c == '\'':
			start := i
			i++
			closed := false
			for i < n {
				if input[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				if input[i] == '\'' {
					if i+1 < n && input[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, &LexError{Pos: start, Message: "unterminated string literal"}
			}
			tokens = append(tokens, Token{Kind: TokenString, Value: input[start:i], Pos: start})

		// 美元引用字符串（PostgreSQL $tag$...$tag$）
		case c == '$' && isDollarQuoteStart(input[i:]):
			start := i
			tagEnd := strings.IndexByte(input[i+1:], '$')
			tag := input[i : i+tagEnd+2]
			body := strings.Index(input[i+len(tag):], tag)
			if body < 0 {
				return nil, &LexError{Pos: start, Message: "unterminated dollar-quoted string"}
			}
			i += len(tag) + body + len(tag)
			tokens = append(tokens, Token{Kind: TokenString, Value: input[start:i], Pos: start})

		// 引号标识符："x" 或 `x`
		case c == '"' || c == '`':
			start := i
			quote := c
			i++
			closed := false
			for i < n {
				if input[i] == quote {
					if i+1 < n && input[i+1] == quote {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, &LexError{Pos: start, Message: "unterminated quoted identifier"}
			}
			raw := input[start:i]
			tokens = append(tokens, Token{
				Kind:  TokenQuotedIdent,
				Value: unquoteIdentifier(raw, quote),
				Pos:   start,
			})

		// 数字字面量
		case c >= '0' && c <= '9',
			c == '.' && i+1 < n && input[i+1] >= '0' && input[i+1] <= '9':
			start := i
			for i < n && (isDigitByte(input[i]) || input[i] == '.' ||
				input[i] == 'e' || input[i] == 'E' ||
				((input[i] == '+' || input[i] == '-') && i > start && (input[i-1] == 'e' || input[i-1] == 'E'))) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Value: input[start:i], Pos: start})

		// 词：关键字或未加引号的标识符
		case isWordStart(rune(c)):
			start := i
			for i < n && isWordPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			tokens = append(tokens, Token{
				Kind:  TokenWord,
				Value: word,
				Upper: strings.ToUpper(word),
				Pos:   start,
			})

		case c == ';':
			tokens = append(tokens, Token{Kind: TokenSemicolon, Value: ";", Pos: i})
			i++

		default:
			tokens = append(tokens, Token{Kind: TokenSymbol, Value: string(c), Pos: i})
			i++
		}
	}

	return tokens, nil
}

// SplitStatements 按字面量外的分号切分语句
// 返回的每个元素都是去掉首尾空白、非空的单条语句文本
func SplitStatements(input string) ([]string, error) {
	tokens, err := TokenizeSQL(input)
	if err != nil {
		return nil, err
	}

	var statements []string
	segStart := 0
	for _, token := range tokens {
		if token.Kind == TokenSemicolon {
			segment := strings.TrimSpace(input[segStart:token.Pos])
			if segment != "" {
				statements = append(statements, segment)
			}
			segStart = token.Pos + 1
		}
	}
	if segStart < len(input) {
		segment := strings.TrimSpace(input[segStart:])
		if segment != "" {
			statements = append(statements, segment)
		}
	}

	return statements, nil
}

// isDollarQuoteStart 判断是否为 $tag$ 形式的美元引用起始
func isDollarQuoteStart(s string) bool {
	if len(s) < 2 || s[0] != '$' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] == '$' {
			return true
		}
		if !isWordPart(rune(s[i])) {
			return false
		}
	}
	return false
}

// unquoteIdentifier 去掉标识符引号并还原内部转义
func unquoteIdentifier(raw string, quote byte) string {
	inner := raw[1 : len(raw)-1]
	return strings.ReplaceAll(inner, string(quote)+string(quote), string(quote))
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
