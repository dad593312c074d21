package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/miku",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Relay: RelayConfig{URL: "http://127.0.0.1:8790"},
		Chat:  ChatConfig{QuestionLimit: 10},
		Provider: ProviderConfig{
			Type:  "together",
			Model: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8790",
			RateLimit: 2,
			RateBurst: 10,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Miku System Configuration
# Location: ~/.config/miku/settings.toml
# This file uses TOML format: https://toml.io

# Directory where chats, logs and user config are stored
data_directory = "~/.local/share/miku"
`
}

func GenerateUserConfigTemplate() string {
	return `# Miku User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[relay]
# Completion relay the chat client talks to
url = "http://127.0.0.1:8790"
# Bearer token, if the relay requires one
token = ""

[chat]
# Questions allowed before the limit dialog appears
question_limit = 10

[provider]
# One of: together, openai, openrouter, anthropic, ollama
type = "together"
model = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
# Optional endpoint override (Ollama host, OpenAI-compatible base URL)
base_url = ""
api_key = ""

[search]
# Tavily API key; leave empty to disable web search
api_key = ""

[server]
# Listen address for "miku serve"
listen = "127.0.0.1:8790"
# Require this bearer token from clients (optional)
token = ""
# Requests per second per client, 0 disables limiting
rate_limit = 2
rate_burst = 10
`
}
