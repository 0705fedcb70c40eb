package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All built-in patterns are registered here and compiled once at package init.
// Weights are score contributions in [0,1]; the rule engine combines all
// matches for a category, so individual weights stay below the alert
// threshold and only co-occurring signals push a message over it.
// =============================================================================

// --- SPOOFING PATTERNS (phishing and impersonation over chat) ---
func (r *Registry) registerSpoofingPatterns() {
	cat := CategorySpoofing

	// Urgency and pressure
	r.register("urgency_keyword", `(?i)\b(urgent|urgently|asap|immediately|right\s+now)\b`, cat, 0.40, "Urgency pressure wording")
	r.register("deadline_pressure", `(?i)\bwithin\s+\d+\s+(minutes?|hours?)\b`, cat, 0.35, "Artificial deadline")
	r.register("final_warning", `(?i)\b(final|last)\s+(warning|notice|chance)\b`, cat, 0.40, "Final warning pressure")

	// Verification and account-threat lures
	r.register("verify_request", `(?i)\b(verify|confirm|validate|reactivate)\s+(your\s+)?(account|identity|password|details|now)\b`, cat, 0.45, "Verification lure")
	r.register("account_threat", `(?i)\b(account|access)\s+(is\s+|will\s+be\s+|has\s+been\s+)?(suspended|locked|blocked|compromised|disabled|deactivated|terminated)\b`, cat, 0.45, "Account threat lure")
	r.register("security_alert", `(?i)\b(security|fraud)\s+(alert|warning|notice|issue)\b`, cat, 0.35, "Fake security alert")
	r.register("unusual_activity", `(?i)\bunusual\s+(activity|login|sign.?in|access)\b`, cat, 0.35, "Unusual activity lure")

	// Bait
	r.register("prize_bait", `(?i)\byou\s+(have\s+)?won\b|\bclaim\s+your\s+(gift|prize|reward|money)\b|\blottery\b`, cat, 0.40, "Prize or lottery bait")
	r.register("free_bait", `(?i)\bfree\s+(gift|prize|reward|money|bitcoin|crypto)\b`, cat, 0.35, "Free reward bait")
	r.register("click_lure", `(?i)\b(click|tap|follow)\s+(here|this|the)\s*(link|button)?\b`, cat, 0.30, "Click lure")

	// Impersonation
	r.register("support_impersonation", `(?i)\bthis\s+is\s+(tech(nical)?\s+)?support\b|\bi\s*('|’)?\s*a?m\s+from\s+(your\s+)?(bank|support|security|it\s+department|admin)\b`, cat, 0.45, "Support or bank impersonation")
	r.register("admin_claim", `(?i)\b(system|network|device)\s+administrator\b.*\b(requires?|needs?|requests?)\b`, cat, 0.40, "Administrator identity claim")

	// Suspicious links
	r.register("url_shortener", `(?i)https?://(bit\.ly|t\.co|x\.co|goo\.gl|tinyurl\.com|is\.gd|ow\.ly|rb\.gy|cutt\.ly)\b\S*`, cat, 0.35, "Shortened URL")
	r.register("credential_solicitation", `(?i)\b(send|give|tell|share|enter)\s+(me\s+)?(your\s+)?(password|pin|passcode|credentials|verification\s+code)\b`, cat, 0.50, "Direct credential request")
}

// --- INJECTION PATTERNS (structured command and markup payloads) ---
func (r *Registry) registerInjectionPatterns() {
	cat := CategoryInjection

	// Command-shaped JSON in a chat message
	r.register("json_command_field", `(?i)"\s*(command|cmd|action|exec|execute|run)\s*"\s*:`, cat, 0.55, "JSON command field")
	r.register("json_target_field", `(?i)"\s*(target|path|file|payload|args|params)\s*"\s*:`, cat, 0.25, "JSON target field")
	r.register("destructive_command", `(?i)\b(delete|remove|erase|wipe|format|destroy)[_\s]?(all|files?|data|everything|disk|storage)\b`, cat, 0.45, "Destructive command keyword")

	// Shell metacharacters and chaining
	r.register("shell_chain", `(?i)[;&|]\s*(rm|del|mkfs|dd|shutdown|reboot|curl|wget)\b`, cat, 0.50, "Chained shell command")
	r.register("shell_pipe", `(?i)\|\s*(bash|sh|zsh|cmd|powershell)\b`, cat, 0.45, "Pipe to shell")
	r.register("shell_cmd_subst", `\$\([^)]{3,}\)`, cat, 0.40, "Command substitution")
	r.register("shell_backticks", "`[^`]{3,}`", cat, 0.35, "Backtick command substitution")

	// SQL
	r.register("sql_union", `(?i)\bUNION\s+(ALL\s+)?SELECT\b`, cat, 0.50, "SQL UNION injection")
	r.register("sql_tautology", `(?i)'\s*OR\s+'?1'?\s*=\s*'?1`, cat, 0.50, "SQL boolean tautology")
	r.register("sql_statement_break", `(?i)';\s*(DROP|DELETE|UPDATE|INSERT|TRUNCATE)\b`, cat, 0.55, "SQL statement break")

	// Markup and script
	r.register("script_tag", `(?i)<\s*script[\s>]`, cat, 0.50, "Script tag")
	r.register("iframe_tag", `(?i)<\s*iframe[\s>]`, cat, 0.45, "Iframe tag")
	r.register("js_scheme", `(?i)javascript\s*:`, cat, 0.45, "JavaScript URI scheme")
	r.register("event_handler", `(?i)\bon(load|error|click|mouseover)\s*=`, cat, 0.40, "Inline event handler")

	// Path and template injection
	r.register("path_traversal", `\.\./\.\./|\.\.\\\.\.\\`, cat, 0.45, "Path traversal sequence")
	r.register("sensitive_path", `(?i)/etc/(passwd|shadow)\b`, cat, 0.45, "Sensitive system path")
	r.register("template_expr", `\{\{[^}]+\}\}|\$\{[^}]+\}`, cat, 0.35, "Template expression")
}

// --- FLOODING PATTERNS (content markers; rate signals come from history) ---
func (r *Registry) registerFloodingPatterns() {
	cat := CategoryFlooding

	r.register("bang_run", `!{6,}`, cat, 0.30, "Exclamation run")
	r.register("question_run", `\?{6,}`, cat, 0.30, "Question mark run")
	r.register("laugh_run", `(?i)\b(ha|he|ja|lo){10,}\b`, cat, 0.25, "Repeated laugh syllables")
	r.register("symbol_run", `[\p{So}\p{Sk}]{8,}`, cat, 0.30, "Emoji or symbol run")
	r.register("shout_run", `[A-Z][A-Z0-9 !?]{39,}`, cat, 0.25, "Long all-caps run")
}

// --- EXPLOIT PATTERNS (modem commands, shellcode, malformed payloads) ---
func (r *Registry) registerExploitPatterns() {
	cat := CategoryExploit

	// AT command injection against handsfree/serial profiles
	r.register("at_command", `(?i)\bAT\+[A-Z]{2,}[=?]?`, cat, 0.55, "AT modem command")
	r.register("at_dial", `(?i)\bATD[0-9+#*]{3,}`, cat, 0.50, "AT dial command")
	r.register("l2ping_flood", `(?i)\bl2ping\b.{0,40}(-f\b|-s\s*\d{3,})`, cat, 0.45, "l2ping flood invocation")
	r.register("obex_uri", `(?i)\bobex[:/_-]`, cat, 0.35, "OBEX push reference")

	// Shellcode and encoding runs
	r.register("hex_escape_run", `(?:\\x[0-9a-fA-F]{2}){6,}`, cat, 0.55, "Hex escape run")
	r.register("percent_encode_run", `(?:%[0-9a-fA-F]{2}){8,}`, cat, 0.40, "Percent-encoded run")
	r.register("hex_dump_run", `(?i)\b(?:[0-9a-f]{2}[ :]){12,}`, cat, 0.40, "Hex dump run")
	r.register("long_hex_literal", `\b0x[0-9a-fA-F]{16,}\b`, cat, 0.35, "Long hex literal")
	r.register("null_byte_escape", `(?:\\0|\\x00){2,}`, cat, 0.45, "Null byte sequence")

	// Overflow probes
	r.register("format_string", `(?:%\d*\$?[snxp]){3,}`, cat, 0.50, "Format string probe")
	r.register("filler_run", `A{48,}`, cat, 0.40, "Buffer filler run")
}

// --- COMMAND SIGNALS (feature extractor input, not scored directly) ---
func (r *Registry) registerCommandSignals() {
	cat := CategoryCommand

	r.register("cmd_exec_verb", `(?i)\b(exec(ute)?|invoke|launch|spawn)\b`, cat, 0.10, "Execution verb")
	r.register("cmd_destructive_verb", `(?i)\b(delete|remove|erase|wipe|format|kill|terminate)(_\w+)?\b`, cat, 0.10, "Destructive verb")
	r.register("cmd_system_verb", `(?i)\b(shutdown|reboot|restart|halt)\b`, cat, 0.10, "System control verb")
	r.register("cmd_unix_tool", `(?i)\b(sudo|chmod|chown|mkfs)\b|\brm\s+-rf\b|\bdd\s+if=`, cat, 0.10, "Unix admin tool")
}

// --- CREDENTIAL SIGNALS (feature extractor input, not scored directly) ---
func (r *Registry) registerCredentialSignals() {
	cat := CategoryCredential

	r.register("cred_password", `(?i)\b(password|passwd|passphrase|passcode)\b`, cat, 0.10, "Password keyword")
	r.register("cred_pin", `(?i)\bpin\s*(code|number)\b|\benter\s+your\s+pin\b`, cat, 0.10, "PIN keyword")
	r.register("cred_card", `(?i)\b(credit\s*card|card\s+number|cvv|cvc)\b`, cat, 0.10, "Payment card keyword")
	r.register("cred_otp", `(?i)\b(otp|one.?time\s+(code|password)|verification\s+code|2fa|mfa)\b`, cat, 0.10, "One-time code keyword")
	r.register("cred_identity", `(?i)\b(ssn|social\s+security|passport\s+number)\b`, cat, 0.10, "Identity document keyword")
	r.register("cred_login", `(?i)\b(login|log\s*in|sign\s*in)\s+(credentials|details|info)\b`, cat, 0.10, "Login credential keyword")
}

// --- URL SIGNALS (feature extractor input, not scored directly) ---
func (r *Registry) registerURLSignals() {
	cat := CategoryURL

	r.register("url_scheme", `(?i)\bhttps?://\S+`, cat, 0.10, "HTTP URL")
	r.register("url_www", `(?i)\bwww\.[^\s/]+\.\S+`, cat, 0.10, "WWW hostname")
	r.register("url_bare_domain", `(?i)\b[a-z0-9][a-z0-9-]*\.(com|net|org|io|co|ly|gl|me)(/\S*)?\b`, cat, 0.10, "Bare domain")
}

// --- SAFE PHRASES (anchored full-match, short-circuit all scoring) ---
func (r *Registry) registerSafePhrases() {
	cat := CategorySafe

	r.registerFullMatch("safe_greeting", `(?i)(hi|hello|hey)(\s+there)?[.!]?`, cat, 1.0, "Plain greeting")
	r.registerFullMatch("safe_how_are_you", `(?i)(hello|hi|hey)?,?\s*how\s+are\s+you(\s+doing)?(\s+today)?\s*\??`, cat, 1.0, "How are you")
	r.registerFullMatch("safe_time_of_day", `(?i)good\s+(morning|afternoon|evening|night)[.!]?`, cat, 1.0, "Time-of-day greeting")
	r.registerFullMatch("safe_fine_thanks", `(?i)(i\s*('|’)?\s*a?m\s+)?(fine|good|great|ok|okay|well)(,?\s*(thanks|thank\s+you))?[.!]?`, cat, 1.0, "Well-being reply")
	r.registerFullMatch("safe_whats_up", `(?i)what\s*('|’)?\s*s\s+up\s*\??`, cat, 1.0, "What's up")
	r.registerFullMatch("safe_thanks", `(?i)(thanks|thank\s+you)(\s+(so\s+much|a\s+lot))?[.!]?`, cat, 1.0, "Thanks")
	r.registerFullMatch("safe_ack", `(?i)(yes|no|yeah|nope|ok|okay|sure|maybe|sounds\s+good)[.!]?`, cat, 1.0, "Short acknowledgement")
	r.registerFullMatch("safe_bye", `(?i)(bye|goodbye|good\s+night|see\s+you(\s+(later|soon|tomorrow))?|talk\s+to\s+you\s+later)[.!]?`, cat, 1.0, "Farewell")
	r.registerFullMatch("safe_nice_to_meet", `(?i)nice\s+to\s+meet\s+you[.!]?`, cat, 1.0, "Nice to meet you")
	r.registerFullMatch("safe_laugh", `(?i)(lol|haha(ha)*|hehe(he)*)[.!]?`, cat, 1.0, "Short laugh")
	r.registerFullMatch("safe_where_are_you", `(?i)where\s+are\s+you\s*\??`, cat, 1.0, "Where are you")
	r.registerFullMatch("safe_on_my_way", `(?i)(on\s+my\s+way|omw)[.!]?`, cat, 1.0, "On my way")
	r.registerFullMatch("safe_availability", `(?i)are\s+you\s+(there|free|around|busy)(\s+now)?\s*\??`, cat, 1.0, "Availability check")
}
