package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>relaydoc sessions</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 20px;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
    }
    .shell { max-width: 1100px; margin: 0 auto; display: grid; gap: 14px; }
    .bar, .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 14px;
    }
    h1 { margin: 0; font-size: 1.4rem; }
    .sub { color: var(--muted); font-size: 0.9rem; margin-top: 4px; }
    .controls { display: flex; gap: 10px; margin-top: 10px; }
    .controls input { flex: 1; border-radius: 8px; border: 1px solid var(--line); padding: 8px; }
    button { border: 0; border-radius: 8px; padding: 8px 14px; background: var(--accent); color: #fff; cursor: pointer; }
    .status.err { color: var(--danger); }
    .status.ok { color: var(--accent); }
    table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); vertical-align: top; }
    .mono { font-family: "JetBrains Mono", "SFMono-Regular", monospace; }
    .swatch { display: inline-block; width: 10px; height: 10px; border-radius: 50%; margin-right: 6px; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>Live collaboration sessions</h1>
      <div class="sub">Requires a token with the admin:read scope. Refreshes every 5s.</div>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token" />
        <button id="refresh" type="button">Refresh</button>
      </div>
      <div class="sub">status: <span id="status" class="status">idle</span> | updated: <span id="updated">-</span></div>
    </div>
    <div class="card">
      <table>
        <thead><tr><th>Document</th><th>Participants</th><th>Pending saves</th><th>Since</th></tr></thead>
        <tbody id="rows"><tr><td colspan="4">No sessions</td></tr></tbody>
      </table>
    </div>
  </div>
  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        refresh: document.getElementById("refresh"),
        status: document.getElementById("status"),
        updated: document.getElementById("updated"),
        rows: document.getElementById("rows"),
      };

      function setStatus(text, kind) {
        dom.status.textContent = text;
        dom.status.className = "status " + (kind || "");
      }

      function cell(text, className) {
        const td = document.createElement("td");
        if (className) {
          td.className = className;
        }
        td.textContent = text;
        return td;
      }

      function participantCell(participants) {
        const td = document.createElement("td");
        (participants || []).forEach(function (p) {
          const line = document.createElement("div");
          const swatch = document.createElement("span");
          swatch.className = "swatch";
          swatch.style.background = p.color || "#999";
          line.appendChild(swatch);
          line.appendChild(document.createTextNode((p.displayName || p.userId) + " (" + p.role + ")"));
          td.appendChild(line);
        });
        return td;
      }

      function render(sessions) {
        dom.rows.innerHTML = "";
        if (!sessions.length) {
          const tr = document.createElement("tr");
          tr.appendChild(cell("No sessions"));
          tr.firstChild.colSpan = 4;
          dom.rows.appendChild(tr);
          return;
        }
        sessions.forEach(function (s) {
          const tr = document.createElement("tr");
          tr.appendChild(cell(s.documentId, "mono"));
          tr.appendChild(participantCell(s.participants));
          tr.appendChild(cell(String(s.pendingSaves)));
          tr.appendChild(cell(new Date(s.createdAt).toLocaleTimeString()));
          dom.rows.appendChild(tr);
        });
      }

      async function refresh() {
        const token = dom.token.value.trim();
        if (!token) {
          setStatus("enter token to start", "");
          return;
        }
        try {
          const resp = await fetch("/v1/admin/sessions", { headers: { Authorization: "Bearer " + token } });
          const body = await resp.json();
          if (!resp.ok) {
            throw new Error(body.message || resp.status);
          }
          render(body.sessions || []);
          dom.updated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          window.localStorage.setItem("relaydoc_dashboard_token", token);
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.token.addEventListener("change", refresh);
      dom.token.value = window.localStorage.getItem("relaydoc_dashboard_token") || "";
      setInterval(refresh, 5000);
      refresh();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
