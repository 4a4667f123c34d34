package scanner

// wellKnownServices maps well-known TCP ports to service names. Lookup
// is exact match only; ports not listed here are reported numerically.
var wellKnownServices = map[int]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	67:    "dhcp",
	69:    "tftp",
	80:    "http",
	88:    "kerberos",
	110:   "pop3",
	111:   "rpcbind",
	119:   "nntp",
	123:   "ntp",
	135:   "msrpc",
	137:   "netbios-ns",
	139:   "netbios-ssn",
	143:   "imap",
	161:   "snmp",
	179:   "bgp",
	194:   "irc",
	389:   "ldap",
	443:   "https",
	445:   "smb",
	465:   "smtps",
	514:   "syslog",
	515:   "printer",
	548:   "afp",
	554:   "rtsp",
	587:   "submission",
	631:   "ipp",
	636:   "ldaps",
	873:   "rsync",
	902:   "vmware",
	989:   "ftps-data",
	990:   "ftps",
	993:   "imaps",
	995:   "pop3s",
	1080:  "socks",
	1194:  "openvpn",
	1433:  "mssql",
	1521:  "oracle",
	1723:  "pptp",
	1883:  "mqtt",
	2049:  "nfs",
	2181:  "zookeeper",
	2375:  "docker",
	2376:  "docker-tls",
	3000:  "dev-http",
	3128:  "squid",
	3306:  "mysql",
	3389:  "rdp",
	4369:  "epmd",
	5000:  "upnp",
	5060:  "sip",
	5222:  "xmpp",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	5984:  "couchdb",
	6379:  "redis",
	6443:  "kube-api",
	6667:  "irc",
	8000:  "http-alt",
	8080:  "http-proxy",
	8081:  "http-alt",
	8443:  "https-alt",
	8883:  "mqtts",
	9000:  "http-alt",
	9090:  "prometheus",
	9100:  "jetdirect",
	9200:  "elasticsearch",
	11211: "memcached",
	27017: "mongodb",
}

// ServiceName returns the well-known service for a TCP port.
func ServiceName(port int) (string, bool) {
	name, ok := wellKnownServices[port]
	return name, ok
}
