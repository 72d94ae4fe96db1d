package notifier

import "strings"

const messageLimit = 4096

// SplitMessage раскладывает HTML-отчёт по сообщениям не длиннее limit символов.
// Секции (блоки через пустую строку) переносятся целиком; секция длиннее лимита
// раскладывается по строкам, а строка длиннее лимита режется вне тегов и сущностей.
// limit <= 0 означает лимит сообщения Telegram.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = messageLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p := packer{limit: limit}
	for _, section := range strings.Split(text, "\n\n") {
		section = strings.Trim(section, "\n")
		if section == "" || p.add(section, "\n\n") {
			continue
		}
		sep := "\n\n"
		for _, line := range strings.Split(section, "\n") {
			if line == "" {
				continue
			}
			if !p.add(line, sep) {
				for _, piece := range cutLine(line, limit) {
					p.add(piece, "\n")
				}
			}
			sep = "\n"
		}
	}
	return p.done()
}

type packer struct {
	limit  int
	parts  []string
	cur    strings.Builder
	curLen int
}

// add дописывает фрагмент в текущее сообщение или начинает новое.
// false — фрагмент сам по себе длиннее лимита.
func (p *packer) add(s, sep string) bool {
	n := len([]rune(s))
	if n > p.limit {
		return false
	}
	if p.curLen > 0 && p.curLen+len(sep)+n > p.limit {
		p.flush()
	}
	if p.curLen > 0 {
		p.cur.WriteString(sep)
		p.curLen += len(sep)
	}
	p.cur.WriteString(s)
	p.curLen += n
	return true
}

func (p *packer) flush() {
	if p.curLen > 0 {
		p.parts = append(p.parts, p.cur.String())
	}
	p.cur.Reset()
	p.curLen = 0
}

func (p *packer) done() []string {
	p.flush()
	return p.parts
}

// cutLine режет строку на куски не длиннее limit, не разрывая <тег> и &сущность;
// при возможности режет по пробелу.
func cutLine(line string, limit int) []string {
	runes := []rune(line)
	var out []string
	for len(runes) > limit {
		cut, skip := safeCut(runes[:limit]), 0
		if cut == limit {
			if sp := lastIndex(runes[:limit], ' '); sp > limit/2 {
				cut, skip = sp, 1
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut+skip:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// safeCut отступает к началу незакрытого тега или сущности в окне.
func safeCut(window []rune) int {
	cut := len(window)
	if lt := lastIndex(window, '<'); lt > lastIndex(window, '>') {
		cut = min(cut, lt)
	}
	if amp := lastIndex(window, '&'); amp > lastIndex(window, ';') {
		cut = min(cut, amp)
	}
	if cut == 0 {
		return len(window)
	}
	return cut
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
