package transport

import (
	"bytes"
	"text/template"

	"github.com/pkg/errors"
)

// The provider bootstrap runs inside the dApp window. The hosting shell
// must evaluate it during window creation, before the page's own scripts
// execute; the wallet relies on that ordering guarantee so restrictive
// page policy can neither observe nor block the channel setup.
var bootstrapTmpl = template.Must(template.New("bootstrap").Parse(`(function () {
  'use strict';
  if (window.ethereum) { return; }

  var WINDOW_ID = {{.WindowID | printf "%q"}};
  var PORT = {{.Port}};
  var pending = new Map();
  var listeners = new Map();
  var nextId = 1;
  var sock = new WebSocket('ws://127.0.0.1:' + PORT + '/?window_id=' + WINDOW_ID);
  var ready = new Promise(function (resolve) { sock.onopen = resolve; });

  sock.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.id !== undefined && msg.id !== null) {
      var settle = pending.get(String(msg.id));
      if (!settle) { return; }
      pending.delete(String(msg.id));
      if (msg.error) {
        var err = new Error(msg.error.message);
        err.code = msg.error.code;
        settle.reject(err);
      } else {
        settle.resolve(msg.result === undefined ? null : msg.result);
      }
      return;
    }
    var subs = listeners.get(msg.method) || [];
    subs.forEach(function (fn) { fn(msg.params); });
  };

  window.ethereum = {
    isVaughan: true,
    request: function (args) {
      var id = String(nextId++);
      return ready.then(function () {
        return new Promise(function (resolve, reject) {
          pending.set(id, { resolve: resolve, reject: reject });
          sock.send(JSON.stringify({ id: id, method: args.method, params: args.params || [] }));
        });
      });
    },
    on: function (event, fn) {
      if (!listeners.has(event)) { listeners.set(event, []); }
      listeners.get(event).push(fn);
      return window.ethereum;
    },
    removeListener: function (event, fn) {
      var subs = listeners.get(event) || [];
      var i = subs.indexOf(fn);
      if (i >= 0) { subs.splice(i, 1); }
      return window.ethereum;
    }
  };
})();`))

// BootstrapScript renders the provider bootstrap for one window. The
// hosting shell injects the result at window creation time.
func BootstrapScript(windowID string, port int) (string, error) {
	var buf bytes.Buffer
	err := bootstrapTmpl.Execute(&buf, struct {
		WindowID string
		Port     int
	}{WindowID: windowID, Port: port})
	if err != nil {
		return "", errors.Wrap(err, "render provider bootstrap")
	}
	return buf.String(), nil
}
