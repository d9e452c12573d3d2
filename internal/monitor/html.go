package monitor

// indexHTML is the operator view page. %s receives the session id.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<title>pitchsight - %s</title>
<style>
body { background: #111; color: #ddd; font-family: monospace; margin: 20px; }
img { border: 1px solid #444; max-width: 100%%; }
#stats { margin-top: 10px; white-space: pre; }
.failed { color: #f66; }
</style>
</head>
<body>
<img src="/stream" alt="live view">
<div id="stats">waiting for stats...</div>
<script>
const stats = document.getElementById('stats');
const es = new EventSource('/events');
es.onmessage = (e) => {
  const s = JSON.parse(e.data);
  const c = s.counters;
  stats.className = s.state === 'failed' ? 'failed' : '';
  stats.textContent =
    'session  ' + s.session_id + '\n' +
    'state    ' + s.state + (s.last_error ? ' (' + s.last_error + ')' : '') + '\n' +
    'rate     ' + s.rate_fps.toFixed(1) + ' fps' + (s.congested ? ' [degraded]' : '') + '\n' +
    'sent     ' + c.frames_sent + '  dropped ' + c.frames_dropped + '\n' +
    'warnings ' + c.slow_down_warnings + '  reconnects ' + c.reconnects + '\n' +
    'latency  ' + c.mean_latency_ms.toFixed(0) + ' ms  send ' + c.send_fps.toFixed(1) + ' fps';
};
</script>
</body>
</html>
`
