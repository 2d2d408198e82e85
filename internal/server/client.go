package server

import (
	"bytes"
)

const (
	routePrefix = "/__weft/"
	routeWS     = routePrefix + "ws"
	routeStatus = routePrefix + "status"
	routeErrors = routePrefix + "errors"
	routeClient = routePrefix + "client.js"
)

// reloadClient reconnects with backoff, reloads on a new generation and
// shows build errors.
const reloadClient = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var url = proto + location.host + "/__weft/ws";
  var delay = 500;

  function showErrors(errors) {
    var el = document.getElementById("weft-error-overlay");
    if (!el) {
      el = document.createElement("div");
      el.id = "weft-error-overlay";
      el.style.cssText = "position:fixed;top:0;left:0;width:100%;height:100%;background:rgba(0,0,0,0.85);color:#fff;font-family:Menlo,Monaco,monospace;font-size:14px;z-index:99999;padding:20px;box-sizing:border-box;overflow:auto;";
      document.body.appendChild(el);
    }
    el.innerHTML = "";
    var title = document.createElement("h2");
    title.style.color = "#ff6b6b";
    title.textContent = "Build failed";
    el.appendChild(title);
    (errors || []).forEach(function (e) {
      var pre = document.createElement("pre");
      pre.style.whiteSpace = "pre-wrap";
      pre.textContent = e.message;
      el.appendChild(pre);
    });
    el.style.display = "block";
  }

  function connect() {
    var ws = new WebSocket(url);
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (event) {
      var msg;
      try { msg = JSON.parse(event.data); } catch (e) { return; }
      if (msg.type === "reload") {
        window.location.reload();
      } else if (msg.type === "error") {
        showErrors(msg.errors);
      }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }

  connect();
})();
`

var clientTag = []byte(`<script src="` + routeClient + `"></script>`)

// injectHTML inserts snippet before the closing body tag, or appends it when
// the document has none.
func injectHTML(doc, snippet []byte) []byte {
	if len(snippet) == 0 {
		return doc
	}
	i := bytes.LastIndex(bytes.ToLower(doc), []byte("</body>"))
	if i < 0 {
		out := make([]byte, 0, len(doc)+len(snippet))
		return append(append(out, doc...), snippet...)
	}
	out := make([]byte, 0, len(doc)+len(snippet))
	out = append(out, doc[:i]...)
	out = append(out, snippet...)
	return append(out, doc[i:]...)
}
