package control

import (
	"encoding/json"
	"fmt"
)

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ProbeScript resolves selector and reports an Element as JSON.
func ProbeScript(selector string) string {
	return fmt.Sprintf(`(() => {
  try {
    const el = document.querySelector(%s);
    if (!el) return JSON.stringify({found: false});
    const r = el.getBoundingClientRect();
    const disabled = el.disabled === true || el.getAttribute('aria-disabled') === 'true';
    const text = (el.value !== undefined ? el.value : el.innerText) || '';
    return JSON.stringify({found: true, x: r.left + r.width / 2, y: r.top + r.height / 2,
      enabled: !disabled, text: String(text).slice(0, 1000)});
  } catch (e) {
    return JSON.stringify({found: false, error: String(e)});
  }
})()`, quote(selector))
}

// FocusScript focuses the element matched by selector and clears it.
func FocusScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return JSON.stringify({ok: false, error: 'not found'});
  el.focus();
  if ('value' in el && el.tagName !== 'DIV') { el.value = ''; } else {
    document.execCommand('selectAll', false, null);
    document.execCommand('delete', false, null);
  }
  return JSON.stringify({ok: document.activeElement === el || el.contains(document.activeElement)});
})()`, quote(selector))
}

// InsertTextScript sets the element's content directly and fires the input
// events frameworks listen for.
func InsertTextScript(selector, text string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return JSON.stringify({ok: false, error: 'not found'});
  el.focus();
  const text = %s;
  if ('value' in el && el.tagName !== 'DIV') {
    const proto = Object.getPrototypeOf(el);
    const setter = Object.getOwnPropertyDescriptor(proto, 'value');
    if (setter && setter.set) { setter.set.call(el, text); } else { el.value = text; }
  } else {
    document.execCommand('selectAll', false, null);
    if (!document.execCommand('insertText', false, text)) { el.textContent = text; }
  }
  el.dispatchEvent(new InputEvent('input', {bubbles: true, data: text, inputType: 'insertText'}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return JSON.stringify({ok: true});
})()`, quote(selector), quote(text))
}

// PasteScript simulates a clipboard paste of text into the element.
func PasteScript(selector, text string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return JSON.stringify({ok: false, error: 'not found'});
  el.focus();
  document.execCommand('selectAll', false, null);
  const dt = new DataTransfer();
  dt.setData('text/plain', %s);
  const ev = new ClipboardEvent('paste', {clipboardData: dt, bubbles: true, cancelable: true});
  const handled = !el.dispatchEvent(ev);
  if (!handled) { document.execCommand('insertText', false, dt.getData('text/plain')); }
  return JSON.stringify({ok: true});
})()`, quote(selector), quote(text))
}

// FindTextScript searches the elements matched by selector for one whose
// normalised text contains needle, and reports a Match as JSON.
func FindTextScript(selector, needle string) string {
	return fmt.Sprintf(`(() => {
  try {
    const norm = (s) => String(s || '').replace(/\s+/g, ' ').trim().toLowerCase();
    const needle = norm(%s);
    for (const el of document.querySelectorAll(%s)) {
      if (norm(el.innerText).includes(needle)) {
        const link = el.closest('a[href]') || el.querySelector('a[href]');
        return JSON.stringify({found: true, ref: el.id || (link ? link.href : '')});
      }
    }
    return JSON.stringify({found: false});
  } catch (e) {
    return JSON.stringify({found: false, error: String(e)});
  }
})()`, quote(needle), quote(selector))
}

// PageTextScript returns a bounded slice of the visible page text.
func PageTextScript() string {
	return `(() => JSON.stringify({text: (document.body ? document.body.innerText : '').slice(0, 20000)}))()`
}
