package config

// DefaultSettingsTemplate is the commented settings file written by "config init".
const DefaultSettingsTemplate = `# proxyman settings
# Profiles, the active-profile marker and this file live in profile_dir.

profile_dir: "~/.proxymanx"

# On-disk shape for newly saved profiles: json or ini.
# Both shapes are always readable; json wins when a name has both.
profile_format: json

# Upper bound for each git / npm / powershell / gsettings invocation.
command_timeout: "30s"

# How long to wait for the OS settings-changed broadcast before moving on.
notify_timeout: "2s"

# PowerShell profile to edit. Empty asks PowerShell for $PROFILE.
# shell_profile: "~/Documents/WindowsPowerShell/Microsoft.PowerShell_profile.ps1"

# Durable environment file used off Windows (source it from your shell rc).
# env_file: "~/.proxymanx/proxy.env"

# Exclusion list used when "set" is given no --no-proxy.
default_no_proxy:
  - "localhost"
  - "127.0.0.1"
  - "::1"
  - "*.local"
  - "10.*"
  - "192.168.*"

logging:
  level: warn       # debug, info, warn, error
  format: text      # text, json
  output: stderr    # stdout, stderr, or a file path
`
