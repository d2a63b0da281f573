package cli

const banner = `
  _                 _ _
 (_)_ ____   _____ (_) |
 | | '_ \ \ / / _ \| | |
 | | |_) \ V / (_) | | |
 |_| .__/ \_/ \___/|_|_|
   |_|
`

const usageTemplate = `{{banner}}
Usage:
  {{app}} [-f FILE|-s KIND:ORIGIN] [-a ADDR] [options...]

Proxy sources:
  -f, --file <FILE>            Proxy list file, one URI per line
  -s, --source <KIND:ORIGIN>   Remote source (geonode:URL, htmltable:URL,
                               pagescrape:URL); repeatable, "#ja3" suffix
                               fetches with a browser TLS fingerprint
  -c, --config <FILE>          Config file (ini); explicit flags win

Server:
  -a, --address <ADDR>         Run proxy server on ADDR (default: :8080)
      --auth <USER:PASS>       Require proxy authentication
      --max-conns <N>          Concurrent connection cap (default: 512)
  -d, --daemon                 Run the server as a system service

Rotation:
  -m, --method <POLICY>        lowest-latency, round-robin or random
                               (default: lowest-latency)
  -r, --rotate <DURATION>      Rotation interval (default: 10m)
      --killswitch-grace <D>   Empty-pool grace before denying (default: 10s)

Validation:
  -t, --timeout <DURATION>     Probe timeout (default: 5s)
  -g, --goroutine <N>          Concurrent probes (default: 20)
      --echo <URL>             Echo endpoint for probes
      --dead-threshold <N>     Failures before dead (default: 3)
      --eviction-grace <D>     Keep dead records this long (default: 3m)
      --refresh <DURATION>     Pool refresh period (default: 5m)
      --max-latency <D>        Skip listings advertising more than this
      --cc, --only-cc <CC>     Comma-separated country allowlist

Modes:
      --check                  Check proxies once and exit
      --watch <CRON>           Re-check on a cron schedule
      --pick                   Choose the first upstream interactively
  -u, --update                 Update {{app}} to the latest release

Output:
  -o, --output <FILE>          Save live proxies from --check
  -l, --log <FILE>             Mirror server log to FILE
      --traffic-log <FILE>     Append session/rotation records (JSONL)
      --prefs <FILE>           Preferences file (policy, favorites)
      --history <FILE>         Rotation history file
  -v, --verbose                Debug logging and probe dumps
  -V, --version                Show version and exit

Examples:
  {{app}} -f proxies.txt --check -o live.txt
  {{app}} -s geonode:https://proxylist.geonode.com/api/proxy-list?limit=500 -a :8080
  {{app}} -f proxies.txt -a 127.0.0.1:8080 -m round-robin -r 5m
`
