package web

import (
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		return d.Truncate(time.Second).String()
	},
	"ago": func(t, now time.Time) string {
		return humanize.RelTime(t, now, "ago", "from now")
	},
	"percent": func(f float32) string {
		return humanize.FtoaWithDigits(float64(f)*100, 1) + "%"
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Fermentation Chamber</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.1em; margin-top: 1.5em; }
table { border-collapse: collapse; width: 100%; }
td, th { text-align: left; padding: 3px 6px; border-bottom: 1px solid #e4e4e4; }
th { width: 35%; font-weight: normal; color: #555; }
.on, .connected { color: #1a7f37; font-weight: bold; }
.off { color: #999; }
.disconnected, .fault { color: #cf222e; font-weight: bold; }
</style>
</head>
<body>
<h1>Fermentation Chamber</h1>

<h2>Chamber</h2>
<table>
{{if .Reading}}<tr><th>Temperature</th><td id="temperature">{{printf "%.1f" .Reading.Temperature}} &deg;C</td></tr>
<tr><th>Humidity</th><td id="humidity">{{printf "%.1f" .Reading.Humidity}} %RH</td></tr>
<tr><th>Read</th><td>{{ago .ReadingAt .Now}}</td></tr>{{else}}<tr><th>Reading</th><td>none yet</td></tr>{{end}}
<tr><th>Sensor</th><td class="{{if .SensorFault}}fault{{else}}on{{end}}">{{if .SensorFault}}FAULT{{else}}OK{{end}}</td></tr>
</table>

<h2>Project</h2>
<table>
{{with .Project}}<tr><th>Name</th><td id="project">{{.Name}}</td></tr>
<tr><th>Target</th><td>{{printf "%.1f" .Settings.Temperature}} &deg;C / {{printf "%.1f" .Settings.Humidity}} %RH</td></tr>
{{if .StartAt}}<tr><th>Started</th><td>{{ago .StartAt $.Now}}</td></tr>{{end}}{{else}}<tr><th>Active</th><td id="project">none</td></tr>{{end}}
</table>

<h2>Control</h2>
<table>
<tr><th>Loop</th><th>State</th><th>Setpoint</th><th>Measured</th><th>Duty</th></tr>
{{range .Loops}}<tr><td>{{.Dimension}}</td><td>{{.State}}{{if .Err}} <span class="fault" title="{{.Err}}">!</span>{{end}}</td><td>{{printf "%.1f" .Setpoint}}</td><td>{{printf "%.1f" .Measured}}</td><td>{{percent .Decision.OnFraction}}</td></tr>
{{end}}</table>

<h2>Outputs</h2>
<table>
{{range .OutputRows}}<tr><th>{{.Role}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{onOff .On}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Temperature period</th><td>{{.Config.TemperaturePeriod}}</td></tr>
<tr><th>Humidity period</th><td>{{.Config.HumidityPeriod}}</td></tr>
<tr><th>History</th><td>{{.Config.LogSchedule}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Simulated}}<tr><th>Mode</th><td class="fault">simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/project">Projects</a> &middot; <a href="/metrics">Metrics</a></p>
</body>
</html>
`

type outputRow struct {
	Role gpio.Role
	On   bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	var rows []outputRow
	for _, role := range gpio.Roles() {
		if on, ok := snap.Outputs[role]; ok {
			rows = append(rows, outputRow{Role: role, On: on})
		}
	}
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		OutputRows []outputRow
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		OutputRows: rows,
	}
	return indexTmpl.Execute(w, data)
}
