package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// scrollScript scrolls the most likely scroll container: the scrollable
// ancestor of the focused element, then common containers, then the document.
const scrollScript = `(dir, dist) => {
	function isScrollable(el) {
		if (!el) return false;
		const s = window.getComputedStyle(el);
		return (s.overflowY === 'auto' || s.overflowY === 'scroll') && el.scrollHeight > el.clientHeight;
	}
	const distance = Number(dist) || 600;
	let target = null;
	for (let p = document.activeElement; p && !target; p = p.parentElement) {
		if (isScrollable(p)) target = p;
	}
	if (!target) {
		for (const n of document.querySelectorAll('main,[role="main"],section,div')) {
			if (isScrollable(n)) { target = n; break; }
		}
	}
	if (!target) target = document.scrollingElement || document.documentElement;
	const d = (typeof dir === 'string' ? dir : 'down').toLowerCase();
	if (d === 'top') { target.scrollTop = 0; return 0; }
	if (d === 'bottom') { target.scrollTop = target.scrollHeight; return target.scrollHeight; }
	let move = distance;
	if (d === 'up') move = -distance;
	if (d === 'page_up') move = -2 * distance;
	if (d === 'page_down') move = 2 * distance;
	target.scrollBy({top: move, left: 0, behavior: 'auto'});
	return move;
}`

const viewportHeightScript = `() => Math.max(window.innerHeight || 0, document.documentElement.clientHeight || 0, 600)`

const viewportScript = `() => ({width: window.innerWidth, height: window.innerHeight})`

// stableDOMScript resolves once the body saw no mutation for 300ms.
const stableDOMScript = `() => new Promise((resolve) => {
	let timeoutId;
	const done = () => { observer.disconnect(); resolve(true); };
	const observer = new MutationObserver(() => {
		clearTimeout(timeoutId);
		timeoutId = setTimeout(done, 300);
	});
	observer.observe(document.body, {childList: true, subtree: true, attributes: true});
	timeoutId = setTimeout(done, 300);
})`

// clickTextScript clicks the smallest visible clickable element whose text
// matches. It returns false when nothing matched.
const clickTextScript = `(text, exact) => {
	const want = text.trim().toLowerCase();
	const nodes = document.querySelectorAll('a,button,[role="button"],[role="link"],input[type="submit"],input[type="button"],label,li,span,div');
	let best = null;
	for (const n of nodes) {
		const r = n.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const t = (n.innerText || n.value || '').trim().toLowerCase();
		if (!t) continue;
		if (exact ? t !== want : !t.includes(want)) continue;
		if (!best || t.length < (best.innerText || best.value || '').trim().length) best = n;
	}
	if (!best) return false;
	best.scrollIntoView({block: 'center'});
	best.click();
	return true;
}`

// call renders an invocation of a JS function literal with JSON arguments.
func call(fn string, args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		parts = append(parts, string(b))
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(parts, ", "))
}

func normalizeDirection(direction string) string {
	d := strings.ToLower(strings.TrimSpace(direction))
	switch d {
	case "up", "down", "top", "bottom", "page_up", "page_down":
		return d
	case "pageup", "page-up":
		return "page_up"
	case "pagedown", "page-down":
		return "page_down"
	default:
		return "down"
	}
}
