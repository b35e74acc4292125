// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import "unicode"

// Piece 是分块器输出的一个文本单元，Offset/Length 以 rune 计，
// 指向原文中的位置，便于从命中回溯到源文本。
type Piece struct {
	Seq    int
	Offset int
	Length int
	Text   string
}

// Splitter 将长文本切分为有重叠、大小受限的文本单元。
// 切分优先选择自然边界（段落、句子、空白），找不到合适边界时硬切。
// 相同输入与参数必然产生相同的切分序列，幂等重摄取依赖这一点。
type Splitter struct {
	MaxChars int // 单块的最大字符数（rune）
	Overlap  int // 相邻块之间共享的字符数，必须小于 MaxChars
}

// NewSplitter 创建一个分块器，参数非法时退回默认值 500/50。
func NewSplitter(maxChars, overlap int) Splitter {
	if maxChars <= 0 {
		maxChars = 500
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = maxChars / 10
	}
	return Splitter{MaxChars: maxChars, Overlap: overlap}
}

// Split 切分文本。空文本返回空序列；短于 MaxChars 的文本恰好一块。
func (s Splitter) Split(text string) []Piece {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(runes) {
		end := start + s.MaxChars
		if end >= len(runes) {
			pieces = append(pieces, makePiece(len(pieces), runes, start, len(runes)))
			break
		}

		cut := findBoundary(runes, start, end)
		pieces = append(pieces, makePiece(len(pieces), runes, start, cut))

		next := cut - s.Overlap
		if next <= start {
			// 防止在极端参数下原地踏步
			next = cut
		}
		start = next
	}
	return pieces
}

func makePiece(seq int, runes []rune, start, end int) Piece {
	return Piece{
		Seq:    seq,
		Offset: start,
		Length: end - start,
		Text:   string(runes[start:end]),
	}
}

// findBoundary 在 (start, end] 内选择切点。
// 优先级：段落（空行）> 句末标点 > 空白 > 硬切。
// 只接受落在窗口后半段的边界，避免产生过小的碎块。
func findBoundary(runes []rune, start, end int) int {
	floor := start + (end-start)/2

	if cut := lastParagraphBreak(runes, floor, end); cut > 0 {
		return cut
	}
	if cut := lastSentenceEnd(runes, floor, end); cut > 0 {
		return cut
	}
	if cut := lastWhitespace(runes, floor, end); cut > 0 {
		return cut
	}
	return end
}

// lastParagraphBreak 返回窗口内最后一个空行之后的位置，没有则返回 0。
func lastParagraphBreak(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return 0
}

// lastSentenceEnd 返回窗口内最后一个句末标点之后的位置，没有则返回 0。
// 英文句号要求后随空白，避免把小数点或缩写当作句界。
func lastSentenceEnd(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		switch runes[i] {
		case '。', '！', '？':
			return i + 1
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return 0
}

// lastWhitespace 返回窗口内最后一段空白之后的位置，没有则返回 0。
func lastWhitespace(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return 0
}
