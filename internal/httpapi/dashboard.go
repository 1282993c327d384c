package httpapi

import (
	"fmt"
	"net/http"
)

// The dashboard is a read-mostly web view over the tagged-email store, for
// helpers who want a standalone window instead of the extension popup.

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>HelpThread</title>
  <style>
    :root {
      --ink: #1d2330;
      --paper: #f6f7fb;
      --card: #ffffff;
      --line: #d8dce8;
      --accent: #3b6fd4;
      --muted: #6b7386;
      --pending: #b8860b;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Helvetica Neue", Arial, sans-serif;
      color: var(--ink);
      background: var(--paper);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 860px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 16px;
    }

    h1 { margin: 0; font-size: 1.3rem; }

    .sub { margin-top: 4px; color: var(--muted); font-size: 0.88rem; }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1fr auto auto;
      margin-top: 12px;
    }

    .controls input {
      border-radius: 8px;
      border: 1px solid var(--line);
      padding: 9px 11px;
      font-size: 0.92rem;
      outline: none;
    }

    .controls input:focus { border-color: var(--accent); }

    button {
      border: 0;
      border-radius: 8px;
      padding: 9px 14px;
      font-family: inherit;
      font-weight: 600;
      cursor: pointer;
      background: var(--accent);
      color: #ffffff;
    }

    button.secondary {
      background: #eceef5;
      color: var(--ink);
      border: 1px solid var(--line);
    }

    .email {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 14px;
    }

    .email h2 { margin: 0; font-size: 1.02rem; }

    .meta { margin-top: 4px; color: var(--muted); font-size: 0.8rem; }

    .status {
      display: inline-block;
      margin-left: 8px;
      padding: 1px 8px;
      border-radius: 9px;
      font-size: 0.72rem;
      color: #ffffff;
      background: var(--pending);
      text-transform: uppercase;
    }

    .note {
      margin: 10px 0 0;
      padding: 9px 11px;
      border-left: 3px solid var(--accent);
      background: #f2f5fc;
      border-radius: 0 8px 8px 0;
      font-size: 0.88rem;
    }

    .thread { margin: 10px 0 0; padding: 0; list-style: none; display: grid; gap: 6px; }

    .thread li {
      border: 1px solid var(--line);
      border-radius: 8px;
      padding: 7px 10px;
      font-size: 0.85rem;
      background: #fafbfe;
    }

    .thread .author { color: var(--muted); font-size: 0.74rem; margin-top: 2px; }

    .reply { display: grid; gap: 8px; grid-template-columns: 1fr auto; margin-top: 10px; }

    .reply input {
      border-radius: 8px;
      border: 1px solid var(--line);
      padding: 8px 10px;
      font-size: 0.88rem;
      outline: none;
    }

    .empty {
      background: var(--card);
      border: 1px dashed var(--line);
      border-radius: 12px;
      padding: 26px;
      text-align: center;
      color: var(--muted);
    }

    .status-line { margin-top: 10px; color: var(--muted); font-size: 0.82rem; }
    .ok { color: #1f7a3d; }
    .err { color: #b23131; }
  </style>
</head>
<body>
  <main class="shell">
    <section class="bar">
      <h1>HelpThread</h1>
      <div class="sub">Emails your colleagues tagged you on, with their running suggestion threads.</div>
      <div class="controls">
        <input id="userEmail" type="email" placeholder="your email address" autocomplete="off" />
        <button id="refresh" type="button">Refresh</button>
        <button id="live" class="secondary" type="button">Live: on</button>
      </div>
      <div class="status-line">Last: <span id="lastUpdated">never</span> | <span id="statusMessage">idle</span></div>
    </section>
    <section id="emails"></section>
  </main>

  <script>
    (function () {
      const state = { live: true, socket: null };

      const dom = {
        userEmail: document.getElementById("userEmail"),
        refresh: document.getElementById("refresh"),
        live: document.getElementById("live"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        emails: document.getElementById("emails"),
      };

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      function userEmail() {
        return dom.userEmail.value.trim().toLowerCase();
      }

      async function api(path, options) {
        const response = await fetch(path, options);
        const data = await response.json();
        if (!data.success) {
          throw new Error(data.error || response.statusText);
        }
        return data;
      }

      function formatTime(millis) {
        if (!millis) { return "-"; }
        return new Date(millis).toLocaleString();
      }

      function renderThread(emailId, messages) {
        const list = document.createElement("ul");
        list.className = "thread";
        (messages || []).forEach((msg) => {
          const li = document.createElement("li");
          const text = document.createElement("div");
          text.textContent = String(msg.text || "");
          const author = document.createElement("div");
          author.className = "author";
          author.textContent = String(msg.author || "?") + " at " + formatTime(msg.timestamp);
          li.appendChild(text);
          li.appendChild(author);
          list.appendChild(li);
        });
        return list;
      }

      function renderReplyForm(emailId) {
        const form = document.createElement("div");
        form.className = "reply";
        const input = document.createElement("input");
        input.type = "text";
        input.placeholder = "add a suggestion...";
        const send = document.createElement("button");
        send.type = "button";
        send.textContent = "Send";
        send.addEventListener("click", async function () {
          const text = input.value.trim();
          if (!text) { return; }
          try {
            await api("/api/emails/" + encodeURIComponent(emailId) + "/messages", {
              method: "POST",
              headers: { "Content-Type": "application/json" },
              body: JSON.stringify({ message: { text: text, author: userEmail() } }),
            });
            input.value = "";
            refresh();
          } catch (err) {
            setStatus("send failed: " + String(err.message || err), "err");
          }
        });
        form.appendChild(input);
        form.appendChild(send);
        return form;
      }

      function renderEmails(emails) {
        dom.emails.innerHTML = "";
        const ids = Object.keys(emails || {});
        if (ids.length === 0) {
          const empty = document.createElement("div");
          empty.className = "empty";
          empty.textContent = "No tagged emails for this address.";
          dom.emails.appendChild(empty);
          return;
        }
        ids.sort((a, b) => (emails[b].timestamp || 0) - (emails[a].timestamp || 0));
        ids.forEach((id) => {
          const rec = emails[id];
          const card = document.createElement("article");
          card.className = "email";

          const title = document.createElement("h2");
          title.textContent = String(rec.email && rec.email.subject ? rec.email.subject : "(no subject)");
          const status = document.createElement("span");
          status.className = "status";
          status.textContent = String(rec.status || "pending");
          title.appendChild(status);
          card.appendChild(title);

          const meta = document.createElement("div");
          meta.className = "meta";
          meta.textContent = "from " + String(rec.email && rec.email.from ? rec.email.from : "?") +
            " | tagged by " + String(rec.requester || "?") +
            " | " + formatTime(rec.timestamp);
          card.appendChild(meta);

          if (rec.note) {
            const note = document.createElement("p");
            note.className = "note";
            note.textContent = String(rec.note);
            card.appendChild(note);
          }

          card.appendChild(renderThread(id, rec.suggestions));
          card.appendChild(renderReplyForm(id));
          dom.emails.appendChild(card);
        });
      }

      async function refresh() {
        const email = userEmail();
        if (!email) {
          setStatus("enter your email address", "err");
          return;
        }
        try {
          const data = await api("/api/emails/" + encodeURIComponent(email));
          renderEmails(data.emails);
          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          window.localStorage.setItem("helpthread_user_email", email);
        } catch (err) {
          setStatus(String(err.message || err), "err");
        }
      }

      function ensureSocket() {
        if (state.socket) {
          state.socket.close();
          state.socket = null;
        }
        if (!state.live) { return; }
        const scheme = window.location.protocol === "https:" ? "wss://" : "ws://";
        const socket = new WebSocket(scheme + window.location.host + "/api/events");
        socket.addEventListener("message", function () { refresh(); });
        state.socket = socket;
      }

      dom.refresh.addEventListener("click", refresh);
      dom.userEmail.addEventListener("change", refresh);
      dom.live.addEventListener("click", function () {
        state.live = !state.live;
        dom.live.textContent = state.live ? "Live: on" : "Live: off";
        ensureSocket();
      });

      dom.userEmail.value = window.localStorage.getItem("helpthread_user_email") || "";
      ensureSocket();
      if (dom.userEmail.value) {
        refresh();
      } else {
        setStatus("enter your email address to start", "err");
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusNotFound, "Route not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
